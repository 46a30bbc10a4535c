package certset

import (
	"path/filepath"

	"go.uber.org/zap"

	"crlite/internal/stats"
)

// revokedExt is the extension of per-issuer revocation files.
const revokedExt = ".revoked"

// Reconcile walks every issuer appearing under knownDir or revokedDir and
// produces the two global fingerprint sequences: known-revoked
// (known ∩ revoked per issuer) and known-not-revoked (known − revoked per
// issuer). All per-issuer and global counters accumulate into st.
//
// Issuers listed in exclude contribute nothing, to either sequence or to any
// counter, as if their files did not exist.
//
// Issuers are visited in lexicographic order and each issuer's fingerprints
// are emitted sorted, so the sequences are reproducible across filesystems.
func Reconcile(
	knownDir, revokedDir string, exclude map[string]bool, st *stats.Statistics, log *zap.SugaredLogger,
) (revoked, valid []string) {
	log.Infow("generating revoked/nonrevoked lists", "known", knownDir, "revoked", revokedDir)

	seen := make(map[string]bool)

	// First pass: every issuer with a known-serial file. The revoked set
	// reconciles against it; revocations of serials outside the known set
	// are noise and stay out of the global sequences.
	//
	// An issuer is processed at most once: if two file names map to the
	// same identifier after extension stripping, the lexicographically
	// first wins and the rest are ignored, keeping the global sequences
	// duplicate-free.
	for _, name := range readDirSorted(knownDir) {
		aki := issuerID(name)
		if exclude[aki] || seen[aki] {
			continue
		}

		seen[aki] = true
		entry := st.AKI(aki)

		known, _ := LoadFingerprintSet(filepath.Join(knownDir, name), aki, log)
		st.Known += len(known)
		entry.Known = len(known)

		rev, hasCRL := LoadFingerprintSet(filepath.Join(revokedDir, aki+revokedExt), aki, log)
		if hasCRL {
			st.Revoked += len(rev)
			entry.CRL = true
		} else {
			// No revocation file at all: the issuer is assumed to
			// have revoked nothing, not skipped.
			st.NoCRL++
		}

		entry.Revoked = len(rev)

		knownNotRevoked := known.Diff(rev)
		knownRevoked := known.Intersect(rev)

		st.KnownNotRevoked += len(knownNotRevoked)
		st.KnownRevoked += len(knownRevoked)
		entry.KnownNotRevoked = len(knownNotRevoked)
		entry.KnownRevoked = len(knownRevoked)

		revoked = append(revoked, knownRevoked...)
		valid = append(valid, knownNotRevoked...)
	}

	// Second pass: issuers that only have a revocation file. With no known
	// baseline there is nothing to reconcile against; record the counters
	// and move on.
	for _, name := range readDirSorted(revokedDir) {
		aki := issuerID(name)
		if exclude[aki] || seen[aki] {
			continue
		}

		entry := st.AKI(aki)

		rev, hasCRL := LoadFingerprintSet(filepath.Join(revokedDir, name), aki, log)
		if !hasCRL {
			st.NoCRL++

			continue
		}

		log.Debugw("only revoked certs for issuer", "aki", aki)

		st.Revoked += len(rev)
		entry.CRL = true
		entry.Revoked = len(rev)
	}

	log.Debugw("reconciliation totals",
		"revoked", st.Revoked,
		"known", st.Known,
		"knownnotrevoked", st.KnownNotRevoked,
		"knownrevoked", st.KnownRevoked,
		"nocrl", st.NoCRL,
	)

	return revoked, valid
}
