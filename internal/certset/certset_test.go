package certset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func testLog() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFingerprintSet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "AKI1.known")
	writeFile(t, path, `["1", "2", 3]`)

	set, ok := LoadFingerprintSet(path, "AKI1", testLog())
	if !ok {
		t.Fatal("expected set to load")
	}

	want := Set{"AKI11": {}, "AKI12": {}, "AKI13": {}}
	if diff := cmp.Diff(want, set); diff != "" {
		t.Errorf("set mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFingerprintSetAbsent(t *testing.T) {
	t.Parallel()

	set, ok := LoadFingerprintSet(filepath.Join(t.TempDir(), "nope.known"), "AKI1", testLog())
	if ok || set != nil {
		t.Errorf("missing file should be absent, got (%v, %v)", set, ok)
	}
}

func TestLoadFingerprintSetMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	for name, content := range map[string]string{
		"notjson.known": `not json at all`,
		"object.known":  `{"serial": "1"}`,
		"nested.known":  `[["1"]]`,
	} {
		path := filepath.Join(dir, name)
		writeFile(t, path, content)

		set, ok := LoadFingerprintSet(path, "AKI1", testLog())
		if ok || set != nil {
			t.Errorf("%s: malformed file should be treated as absent, got (%v, %v)", name, set, ok)
		}
	}
}

func TestSetOperations(t *testing.T) {
	t.Parallel()

	known := Set{"A11": {}, "A12": {}, "A13": {}}
	rev := Set{"A12": {}, "A19": {}}

	if diff := cmp.Diff([]string{"A11", "A13"}, known.Diff(rev)); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"A12"}, known.Intersect(rev)); diff != "" {
		t.Errorf("Intersect mismatch (-want +got):\n%s", diff)
	}

	if got := known.Diff(nil); len(got) != 3 {
		t.Errorf("Diff against nil = %v, want all members", got)
	}

	if got := known.Intersect(nil); len(got) != 0 {
		t.Errorf("Intersect with nil = %v, want empty", got)
	}
}
