// Package certset reconciles per-issuer certificate status records into the
// two global fingerprint sequences a filter build consumes: known-revoked
// and known-not-revoked.
//
// A fingerprint is the issuer identifier (AKI) immediately followed by the
// serial-number literal, which keeps serials unique across issuers even when
// two issuers reuse a serial.
package certset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tailscale/hujson"
	"go.uber.org/zap"
)

// Set is a set of certificate fingerprints.
type Set map[string]struct{}

// Diff returns s minus other, sorted.
func (s Set) Diff(other Set) []string {
	out := make([]string, 0, len(s))

	for k := range s {
		if _, ok := other[k]; !ok {
			out = append(out, k)
		}
	}

	sort.Strings(out)

	return out
}

// Intersect returns the members of s also present in other, sorted.
func (s Set) Intersect(other Set) []string {
	var out []string

	for k := range s {
		if _, ok := other[k]; ok {
			out = append(out, k)
		}
	}

	sort.Strings(out)

	return out
}

// LoadFingerprintSet reads a JSON array of serial numbers from path and
// returns the set of aki-prefixed fingerprints.
//
// A missing file returns (nil, false). A file that cannot be read or parsed
// is logged and also returns (nil, false): malformed per-issuer data must
// never abort the whole run, so callers treat it exactly like an absent
// file. Numeric serials are accepted and rendered with their literal digits.
func LoadFingerprintSet(path, aki string, log *zap.SugaredLogger) (Set, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorw("failed to read certs", "aki", aki, "path", path, "err", err)
		}

		return nil, false
	}

	serials, err := parseSerials(data)
	if err != nil {
		log.Errorw("failed to load certs", "aki", aki, "path", path, "err", err)

		return nil, false
	}

	set := make(Set, len(serials))
	for _, serial := range serials {
		set[aki+serial] = struct{}{}
	}

	return set, true
}

// parseSerials decodes a JSON array of serial numbers. Serial files are
// hand-maintainable, so hujson tolerates comments and trailing commas.
func parseSerials(data []byte) ([]string, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.UseNumber()

	var raw []any

	err = dec.Decode(&raw)
	if err != nil {
		return nil, err
	}

	serials := make([]string, len(raw))

	for i, v := range raw {
		switch serial := v.(type) {
		case string:
			serials[i] = serial
		case json.Number:
			serials[i] = serial.String()
		default:
			return nil, fmt.Errorf("serial %d: unsupported type %T", i, v)
		}
	}

	return serials, nil
}

// issuerID derives the issuer identifier from a record file name by
// stripping the extension.
func issuerID(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// readDirSorted lists the regular files under dir in lexicographic order.
// A missing or unreadable directory yields zero entries; the walk simply
// finds no issuers, which is a valid degenerate outcome.
func readDirSorted(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		names = append(names, entry.Name())
	}

	return names
}
