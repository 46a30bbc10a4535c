// Package build orchestrates one filter build: reconcile (or load cached)
// key lists, construct the cascade fresh or chained to a previous build,
// verify it, serialize the artifact plus metadata and an optional binary
// patch, and write the statistics report last.
package build

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kr/binarydist"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"crlite/internal/certset"
	"crlite/internal/mlbf"
	"crlite/internal/stats"
)

// errNoKnownValid guards the error-rate policy, which divides by the
// known-not-revoked count.
var errNoKnownValid = errors.New("revocations present but no known valid certs to exclude")

// Run executes one complete build for cfg. On success every output file is
// in place and stats.json was the final write; on error the run aborts with
// whatever partial output exists.
func Run(cfg Config, log *zap.SugaredLogger) error {
	start := time.Now()
	st := stats.New()
	paths := DerivePaths(cfg)

	revoked, valid, err := certLists(cfg, paths, st, log)
	if err != nil {
		return err
	}

	st.Timings.CertsMS = time.Since(start).Milliseconds()
	log.Debugw("cert lists", "revoked", len(revoked), "valid", len(valid))

	paths.ResolvePrev(cfg, log)

	mlbfStart := time.Now()

	cascade, err := generate(cfg, paths, st, revoked, valid, log)
	if err != nil {
		return err
	}

	st.Timings.MLBFMS = time.Since(mlbfStart).Milliseconds()

	// A zero-bit cascade means nothing was revoked: no artifact to verify
	// or ship, but the run still succeeds and still reports statistics.
	if cascade.BitCount() > 0 {
		verifyStart := time.Now()

		if !cfg.NoVerify {
			log.Infow("verifying certs against filter")

			err := cascade.Check(revoked, valid)
			if err != nil {
				return fmt.Errorf("verifying filter: %w", err)
			}
		}

		st.Timings.VerifyMS = time.Since(verifyStart).Milliseconds()

		saveStart := time.Now()

		err = save(paths, st, cascade, log)
		if err != nil {
			return err
		}

		st.Timings.SaveMS = time.Since(saveStart).Milliseconds()
	}

	st.Timings.TotalMS = time.Since(start).Milliseconds()

	err = st.Save(paths.StatsFile)
	if err != nil {
		return err
	}

	return nil
}

// certLists produces the two global fingerprint sequences, from the key-list
// cache when caching is on and both files exist, otherwise by reconciling
// the record store (and refreshing the cache if requested).
func certLists(
	cfg Config, paths Paths, st *stats.Statistics, log *zap.SugaredLogger,
) (revoked, valid []string, err error) {
	// The cache path skips reconciliation entirely, so st keeps zeroed
	// reconciliation counters and an empty AKIs map in that case.
	if cfg.CacheKeys && fileExists(paths.RevokedKeys) && fileExists(paths.ValidKeys) {
		log.Infow("loading cached key lists", "revoked", paths.RevokedKeys, "valid", paths.ValidKeys)

		revoked, valid, err = certset.LoadKeyLists(paths.RevokedKeys, paths.ValidKeys)
		if err != nil {
			return nil, nil, err
		}

		return revoked, valid, nil
	}

	revoked, valid = certset.Reconcile(paths.KnownDir, paths.RevokedDir, cfg.excludeSet(), st, log)

	if cfg.CacheKeys {
		log.Infow("saving key lists", "revoked", paths.RevokedKeys, "valid", paths.ValidKeys)

		err = certset.SaveKeyLists(paths.RevokedKeys, paths.ValidKeys, revoked, valid)
		if err != nil {
			return nil, nil, err
		}
	}

	return revoked, valid, nil
}

// generate constructs and populates the cascade, fresh or from the previous
// build's structural metadata, and records its characteristics.
func generate(
	cfg Config, paths Paths, st *stats.Statistics, revoked, valid []string, log *zap.SugaredLogger,
) (*mlbf.Cascade, error) {
	var rates []float64

	if len(valid) > 0 {
		rates = mlbf.ErrorRates(len(revoked), len(valid))
	} else if len(revoked) > 0 {
		return nil, errNoKnownValid
	}

	var cascade *mlbf.Cascade

	if paths.DiffMeta != "" {
		log.Infow("generating filter with characteristics from previous build", "meta", paths.DiffMeta)

		loaded, err := loadMetaFile(paths.DiffMeta)
		if err != nil {
			return nil, err
		}

		cascade = loaded
		cascade.SetErrorRates(rates)
	} else {
		log.Infow("generating filter")

		cascade = mlbf.NewCascade(int(float64(len(revoked))*cfg.Capacity), rates)
	}

	cascade.Version = 1

	err := cascade.Initialize(revoked, valid)
	if err != nil {
		return nil, fmt.Errorf("constructing filter: %w", err)
	}

	st.MLBFFprs = rates
	st.MLBFVersion = int(cascade.Version)
	st.MLBFLayers = cascade.LayerCount()
	st.MLBFBits = cascade.BitCount()

	log.Debugw("filter cascade", "layers", cascade.LayerCount(), "bits", cascade.BitCount())

	return cascade, nil
}

func loadMetaFile(path string) (*mlbf.Cascade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening previous metadata: %w", err)
	}

	defer func() { _ = f.Close() }()

	cascade, err := mlbf.LoadMeta(f)
	if err != nil {
		return nil, fmt.Errorf("loading previous metadata %q: %w", path, err)
	}

	return cascade, nil
}

// save serializes the artifact and its metadata, computes the binary patch
// against the previous build when one was resolved, and records all file
// sizes.
func save(paths Paths, st *stats.Statistics, cascade *mlbf.Cascade, log *zap.SugaredLogger) error {
	err := os.MkdirAll(filepath.Dir(paths.OutFile), 0o755)
	if err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	log.Infow("writing filter", "path", paths.OutFile)

	var filterBuf bytes.Buffer

	_, err = cascade.WriteTo(&filterBuf)
	if err != nil {
		return fmt.Errorf("serializing filter: %w", err)
	}

	filterBytes := filterBuf.Bytes()

	err = atomic.WriteFile(paths.OutFile, bytes.NewReader(filterBytes))
	if err != nil {
		return fmt.Errorf("writing filter: %w", err)
	}

	st.MLBFFilesize = int64(len(filterBytes))

	log.Infow("writing filter metadata", "path", paths.MetaFile)

	var metaBuf bytes.Buffer

	_, err = cascade.WriteMetaTo(&metaBuf)
	if err != nil {
		return fmt.Errorf("serializing filter metadata: %w", err)
	}

	err = atomic.WriteFile(paths.MetaFile, bytes.NewReader(metaBuf.Bytes()))
	if err != nil {
		return fmt.Errorf("writing filter metadata: %w", err)
	}

	st.MLBFMetafilesize = int64(metaBuf.Len())

	if paths.DiffBase == "" {
		return nil
	}

	log.Infow("generating patch file", "patch", paths.PatchFile, "base", paths.DiffBase)

	patchSize, err := writePatch(paths.DiffBase, filterBytes, paths.PatchFile)
	if err != nil {
		return err
	}

	st.MLBFDiffsize = patchSize

	return nil
}

// writePatch computes a bsdiff patch from the previous artifact to the new
// one and writes it atomically.
func writePatch(basePath string, target []byte, patchPath string) (int64, error) {
	base, err := os.Open(basePath)
	if err != nil {
		return 0, fmt.Errorf("opening previous filter: %w", err)
	}

	defer func() { _ = base.Close() }()

	var patch bytes.Buffer

	err = binarydist.Diff(base, bytes.NewReader(target), &patch)
	if err != nil {
		return 0, fmt.Errorf("computing patch: %w", err)
	}

	err = atomic.WriteFile(patchPath, bytes.NewReader(patch.Bytes()))
	if err != nil {
		return 0, fmt.Errorf("writing patch: %w", err)
	}

	return int64(patch.Len()), nil
}
