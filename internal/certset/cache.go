package certset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// SaveKeyLists persists the two global fingerprint sequences, one
// fingerprint per line in sequence order, creating parent directories as
// needed. Each file is written atomically.
//
// The format round-trips exactly through LoadKeyLists for any fingerprints
// not containing a line terminator.
func SaveKeyLists(revokedPath, validPath string, revoked, valid []string) error {
	err := saveKeyList(revokedPath, revoked)
	if err != nil {
		return err
	}

	return saveKeyList(validPath, valid)
}

// LoadKeyLists reads back sequences written by SaveKeyLists, in file order.
// The cache carries no staleness check; callers own invalidation.
func LoadKeyLists(revokedPath, validPath string) (revoked, valid []string, err error) {
	revoked, err = loadKeyList(revokedPath)
	if err != nil {
		return nil, nil, err
	}

	valid, err = loadKeyList(validPath)
	if err != nil {
		return nil, nil, err
	}

	return revoked, valid, nil
}

func saveKeyList(path string, keys []string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating key list directory: %w", err)
	}

	var b strings.Builder

	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('\n')
	}

	err = atomic.WriteFile(path, strings.NewReader(b.String()))
	if err != nil {
		return fmt.Errorf("writing key list %q: %w", path, err)
	}

	return nil
}

func loadKeyList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key list %q: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	// Only the final line terminator is stripped; every other newline is a
	// separator, so empty fingerprints survive the round trip.
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n"), nil
}
