package agent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func postJSON(t *testing.T, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func readFstab(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(etcDir, "fstab"))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestFstabEnsureIdempotent(t *testing.T) {
	old := etcDir
	etcDir = t.TempDir()
	defer func() { etcDir = old }()

	line := "UUID=abcd\t/mnt/data\text4\tdefaults\t0 2"
	for i := 0; i < 3; i++ {
		rr := postJSON(t, handleFstabEnsure, map[string]string{"line": line})
		if rr.Code != http.StatusOK {
			t.Fatalf("ensure %d: status %d: %s", i, rr.Code, rr.Body)
		}
	}
	got := readFstab(t)
	if n := strings.Count(got, "/mnt/data"); n != 1 {
		t.Fatalf("mountpoint appears %d times after repeated ensure:\n%s", n, got)
	}
}

func TestFstabEnsureReplacesSameKey(t *testing.T) {
	old := etcDir
	etcDir = t.TempDir()
	defer func() { etcDir = old }()

	seed := "# static\nUUID=abcd\t/mnt/data\text4\tdefaults\t0 2\n/dev/sda1\t/boot\text4\tdefaults\t0 1\n"
	if err := os.WriteFile(filepath.Join(etcDir, "fstab"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	rr := postJSON(t, handleFstabEnsure, map[string]string{
		"line": "UUID=abcd\t/mnt/data\text4\tnoatime\t0 2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}
	got := readFstab(t)
	if !strings.Contains(got, "noatime") || strings.Contains(got, "\tdefaults\t0 2") {
		t.Fatalf("line not replaced in place:\n%s", got)
	}
	if !strings.Contains(got, "/boot") || !strings.Contains(got, "# static") {
		t.Fatalf("unrelated lines disturbed:\n%s", got)
	}
}

func TestFstabEnsureRejectsMalformed(t *testing.T) {
	old := etcDir
	etcDir = t.TempDir()
	defer func() { etcDir = old }()

	rr := postJSON(t, handleFstabEnsure, map[string]string{"line": "/dev/sdb /mnt"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestFstabRemove(t *testing.T) {
	old := etcDir
	etcDir = t.TempDir()
	defer func() { etcDir = old }()

	seed := "UUID=abcd\t/mnt/data\text4\tdefaults\t0 2\n/dev/sda1\t/boot\text4\tdefaults\t0 1\n"
	if err := os.WriteFile(filepath.Join(etcDir, "fstab"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	rr := postJSON(t, handleFstabRemove, map[string]string{"contains": "/mnt/data"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}
	got := readFstab(t)
	if strings.Contains(got, "/mnt/data") || !strings.Contains(got, "/boot") {
		t.Fatalf("remove touched the wrong lines:\n%s", got)
	}
}

func TestRunEndpointRejectsDisallowed(t *testing.T) {
	rr := postJSON(t, handleRun, RunRequest{Steps: []RunStep{{Cmd: "rm", Args: []string{"-rf", "/"}}}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &er); err != nil || er.Error == "" {
		t.Fatalf("error body: %s", rr.Body)
	}
}

func TestSmartEndpointValidatesDevice(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/smart?device=../etc/shadow", nil)
	rr := httptest.NewRecorder()
	handleSmart(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestSmartTestValidatesType(t *testing.T) {
	old := smartctlOutput
	smartctlOutput = func(args ...string) ([]byte, error) { return nil, nil }
	defer func() { smartctlOutput = old }()

	rr := postJSON(t, handleSmartTest, smartTestRequest{Device: "/dev/sda", Type: "conveyance"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	rr = postJSON(t, handleSmartTest, smartTestRequest{Device: "/dev/sda", Type: "short"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body)
	}
}
