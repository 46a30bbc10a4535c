package build

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Paths holds every input and output location of one run, derived once from
// the configuration.
type Paths struct {
	KnownDir   string // per-issuer <AKI>.known files
	RevokedDir string // per-issuer <AKI>.revoked files

	OutFile   string // filter artifact
	MetaFile  string // filter structural metadata
	StatsFile string // stats.json, always the last write

	RevokedKeys string // key-list cache, revoked sequence
	ValidKeys   string // key-list cache, valid sequence

	// Previous-build files, set by ResolvePrev only when both exist.
	DiffBase  string
	DiffMeta  string
	PatchFile string
}

// DerivePaths computes all run paths from cfg, mirroring the
// <certPath>/<id>/<outDirName> layout.
func DerivePaths(cfg Config) Paths {
	buildDir := filepath.Join(cfg.CertPath, cfg.ID)
	outDir := filepath.Join(buildDir, cfg.OutDirName)

	p := Paths{
		KnownDir:    cfg.KnownPath,
		RevokedDir:  cfg.RevokedPath,
		OutFile:     filepath.Join(outDir, "filter"),
		MetaFile:    filepath.Join(outDir, "filter.meta"),
		StatsFile:   filepath.Join(outDir, "stats.json"),
		RevokedKeys: filepath.Join(outDir, "keys-revoked"),
		ValidKeys:   filepath.Join(outDir, "keys-valid"),
	}

	if p.KnownDir == "" {
		p.KnownDir = filepath.Join(buildDir, "known")
	}

	if p.RevokedDir == "" {
		p.RevokedDir = filepath.Join(buildDir, "revoked")
	}

	return p
}

// ResolvePrev wires in the previous build named by cfg.PrevID. The previous
// build participates only when both its artifact and metadata exist;
// anything missing downgrades to a fresh build with a warning, never an
// error.
func (p *Paths) ResolvePrev(cfg Config, log *zap.SugaredLogger) {
	if cfg.PrevID == "" {
		return
	}

	prevDir := filepath.Join(cfg.CertPath, cfg.PrevID, cfg.OutDirName)
	meta := filepath.Join(prevDir, "filter.meta")
	base := filepath.Join(prevDir, "filter")

	if !fileExists(meta) || !fileExists(base) {
		log.Warnw("previous build specified but no filter files found", "previd", cfg.PrevID)

		return
	}

	p.DiffMeta = meta
	p.DiffBase = base
	p.PatchFile = filepath.Join(filepath.Dir(p.OutFile), "filter."+cfg.PrevID+".patch")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}
