package server

import (
	"bufio"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dark-ant616/DarkDiskz/internal/report"
)

// handleTxStream tails a transaction's step log as server-sent events.
// It replays everything written so far, then follows appends until the
// transaction is no longer running or the deadline hits.
func (s *Server) handleTxStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	logPath := report.LogPath(s.cfg.StateDir, id)

	var lastSize int64
	if f, err := os.Open(logPath); err == nil {
		scan := bufio.NewScanner(f)
		for scan.Scan() {
			writeEvent(w, scan.Text())
		}
		if st, err := f.Stat(); err == nil {
			lastSize = st.Size()
		}
		_ = f.Close()
		flusher.Flush()
	}

	deadline := time.Now().Add(10 * time.Minute)
	for time.Now().Before(deadline) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(time.Second):
		}
		_, _ = w.Write([]byte(": keepalive\n\n"))
		flusher.Flush()

		st, err := os.Stat(logPath)
		if err != nil || st.Size() <= lastSize {
			if s.txFinished(id) {
				return
			}
			continue
		}
		f, err := os.Open(logPath)
		if err != nil {
			continue
		}
		if _, err := f.Seek(lastSize, 0); err == nil {
			scan := bufio.NewScanner(f)
			for scan.Scan() {
				writeEvent(w, scan.Text())
			}
			lastSize = st.Size()
		}
		_ = f.Close()
		flusher.Flush()
		if s.txFinished(id) {
			return
		}
	}
}

func (s *Server) txFinished(id string) bool {
	tx, ok := s.exec.Tx(id)
	return ok && tx.FinishedAt != nil
}

func writeEvent(w http.ResponseWriter, line string) {
	_, _ = w.Write([]byte("event: log\n"))
	_, _ = w.Write([]byte("data: " + line + "\n\n"))
}
