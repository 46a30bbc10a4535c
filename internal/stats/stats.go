// Package stats accumulates the counters produced during a filter build and
// persists them as the run's stats.json, always the last file written.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// AKIStats holds the per-issuer reconciliation counters.
type AKIStats struct {
	Known           int  `json:"known"`
	Revoked         int  `json:"revoked"`
	KnownNotRevoked int  `json:"knownnotrevoked"`
	KnownRevoked    int  `json:"knownrevoked"`
	CRL             bool `json:"crl"`
}

// Timings holds the elapsed wall time of each build phase in milliseconds.
// Each phase writes its own entry directly.
type Timings struct {
	CertsMS  int64 `json:"certs_ms"`
	MLBFMS   int64 `json:"mlbf_ms"`
	VerifyMS int64 `json:"verify_ms"`
	SaveMS   int64 `json:"save_ms"`
	TotalMS  int64 `json:"total_ms"`
}

// Statistics is the full report for one build run. Counters are append-only
// during the run; the object is marshaled once at the end.
//
// The mlbf_* file sizes are omitted from the JSON when the corresponding
// file was not produced (the degenerate empty-filter case, or no previous
// build to diff against).
//
// When a run loads its key lists from the cache instead of reconciling the
// record store, the reconciliation counters stay zero and AKIs stays empty:
// the reconciliation never ran, so there is nothing to report.
type Statistics struct {
	Known           int `json:"known"`
	Revoked         int `json:"revoked"`
	KnownNotRevoked int `json:"knownnotrevoked"`
	KnownRevoked    int `json:"knownrevoked"`
	NoCRL           int `json:"nocrl"`

	MLBFFprs         []float64 `json:"mlbf_fprs"`
	MLBFVersion      int       `json:"mlbf_version"`
	MLBFLayers       int       `json:"mlbf_layers"`
	MLBFBits         int       `json:"mlbf_bits"`
	MLBFFilesize     int64     `json:"mlbf_filesize,omitempty"`
	MLBFMetafilesize int64     `json:"mlbf_metafilesize,omitempty"`
	MLBFDiffsize     int64     `json:"mlbf_diffsize,omitempty"`

	AKIs    map[string]*AKIStats `json:"AKIs"`
	Timings Timings              `json:"timings"`
}

// New returns an empty Statistics ready to accumulate counters.
func New() *Statistics {
	return &Statistics{AKIs: make(map[string]*AKIStats)}
}

// AKI returns the per-issuer entry for aki, creating a zeroed one on first
// use. Entries exist for every non-excluded issuer seen during the walk,
// even ones that contribute nothing to the global sequences.
func (s *Statistics) AKI(aki string) *AKIStats {
	entry, ok := s.AKIs[aki]
	if !ok {
		entry = &AKIStats{}
		s.AKIs[aki] = entry
	}

	return entry
}

// Save writes the report as compact JSON to path, creating parent
// directories as needed.
func (s *Statistics) Save(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating stats directory: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}

	err = atomic.WriteFile(path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("writing stats file: %w", err)
	}

	return nil
}
