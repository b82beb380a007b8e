package agent

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
)

// Start creates the unix socket listener and serves the privileged API.
// Everything the daemon does to a disk goes through this socket; the
// daemon process itself never execs a mutating tool.
func Start(socketPath, etc string) error {
	if err := mustBeRoot(); err != nil {
		return err
	}
	if etc != "" {
		etcDir = etc
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return fmt.Errorf("mkdir socket dir: %w", err)
	}
	_ = os.Remove(socketPath)

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen unix: %w", err)
	}
	// Ownership/group is left to the systemd unit.
	_ = os.Chmod(socketPath, 0o660)

	return http.Serve(l, Routes())
}

// Routes returns the agent's handler. Split out so tests can drive it
// through httptest without a socket.
func Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/run", handleRun)
	mux.HandleFunc("/v1/fstab/ensure", handleFstabEnsure)
	mux.HandleFunc("/v1/fstab/remove", handleFstabRemove)
	mux.HandleFunc("/v1/bcache/detach", handleBcacheDetach)
	mux.HandleFunc("/v1/smart", handleSmart)
	mux.HandleFunc("/v1/smart/test", handleSmartTest)
	mux.HandleFunc("/v1/storage/lsblk", handleLsblk)
	return mux
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
