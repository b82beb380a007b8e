package fsatomic

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "sub", "state.json")
	in := map[string]any{"name": "md0", "ok": true}
	if err := SaveJSON(p, in, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	var out map[string]any
	found, err := LoadJSON(p, &out)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if out["name"] != "md0" {
		t.Fatalf("roundtrip mismatch: %v", out)
	}
	// no temp file left behind
	if _, err := os.Stat(p + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file not cleaned up")
	}
}

func TestLoadMissingFile(t *testing.T) {
	var v map[string]any
	found, err := LoadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for missing file")
	}
}

func TestWithLockRuns(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state.json")
	ran := false
	if err := WithLock(p, func() error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("withlock: %v", err)
	}
	if !ran {
		t.Fatalf("fn not invoked")
	}
}
