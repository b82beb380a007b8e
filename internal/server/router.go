package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dark-ant616/DarkDiskz/internal/config"
	"github.com/dark-ant616/DarkDiskz/internal/executor"
	"github.com/dark-ant616/DarkDiskz/internal/health"
	"github.com/dark-ant616/DarkDiskz/internal/inventory"
	"github.com/dark-ant616/DarkDiskz/internal/planner"
	"github.com/dark-ant616/DarkDiskz/internal/report"
	"github.com/dark-ant616/DarkDiskz/pkg/agentclient"
	"github.com/dark-ant616/DarkDiskz/pkg/httpx"
)

const version = "0.2.0"

func Logger(cfg config.Config) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.Logger.Level(cfg.LogLevel).With().Timestamp().Logger()
	return &logger
}

// Server wires the inventory, planner, executor and health prober
// behind the HTTP API. Probe functions are fields so tests can run the
// full router without block devices.
type Server struct {
	cfg     config.Config
	log     zerolog.Logger
	metrics *report.Metrics
	exec    *executor.Executor
	prober  *health.Prober

	snapshot   func(ctx context.Context) (inventory.Snapshot, error)
	partitions func(ctx context.Context, device string) ([]inventory.Partition, error)
	bcacheList func(ctx context.Context) ([]inventory.Device, error)
	readSmart  func(ctx context.Context, device string) (health.Report, error)
}

func New(cfg config.Config) *Server {
	logger := *Logger(cfg)
	metrics := report.NewMetrics()
	rep := report.Multi{
		&report.LogReporter{Dir: cfg.StateDir, Log: logger},
		metrics,
	}
	return &Server{
		cfg:        cfg,
		log:        logger,
		metrics:    metrics,
		exec:       executor.New(cfg, logger, rep),
		prober:     &health.Prober{Agent: agentclient.New(cfg.AgentSocket)},
		snapshot:   inventory.List,
		partitions: inventory.Partitions,
		bcacheList: inventory.BcacheDevices,
		readSmart:  health.ReadReport,
	}
}

// NewRouter is the composition used by main.
func NewRouter(cfg config.Config) http.Handler {
	return New(cfg).Router()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(zerologMiddleware(&s.log))

	// Dev CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Get("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "version": version})
	})

	r.Get("/api/v1/disks", s.handleDisks)
	r.Get("/api/v1/disks/{name}/partitions", s.handlePartitions)
	r.Get("/api/v1/raid/arrays", s.handleArrays)
	r.Get("/api/v1/bcache/devices", s.handleBcache)

	r.Get("/api/v1/smart/{name}", s.handleSmartRead)
	r.Post("/api/v1/smart/{name}/test", s.handleSmartTest)

	r.Post("/api/v1/plans", s.handlePlanCreate)
	r.Get("/api/v1/plans/{id}", s.handlePlanGet)
	r.Post("/api/v1/plans/{id}/apply", s.handlePlanApply)

	r.Get("/api/v1/tx/{id}", s.handleTxGet)
	r.Post("/api/v1/tx/{id}/cancel", s.handleTxCancel)
	r.Get("/api/v1/tx/{id}/stream", s.handleTxStream)

	r.Get("/api/v1/system", s.handleSystem)
	r.Get("/api/v1/schedules", s.handleSchedulesGet)

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// handleDisks returns the current scan with executor holds overlaid, so
// a device a running transaction owns never shows as free.
func (s *Server) handleDisks(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context())
	if err != nil {
		var pe *inventory.ProbeError
		if errors.As(err, &pe) {
			httpx.WriteTypedError(w, http.StatusServiceUnavailable, "probe.failed", pe.Error())
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	holds := s.exec.Holds()
	for i := range snap.Devices {
		if _, held := holds[snap.Devices[i].Path]; held {
			snap.Devices[i].Role = inventory.RoleHeld
		}
	}
	writeJSON(w, snap)
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	parts, err := s.partitions(r.Context(), "/dev/"+name)
	if err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, map[string]any{"device": name, "partitions": parts})
}

func (s *Server) handleArrays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"arrays": inventory.Arrays()})
}

func (s *Server) handleBcache(w http.ResponseWriter, r *http.Request) {
	devs, err := s.bcacheList(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, map[string]any{"devices": devs})
}

func (s *Server) handleSmartRead(w http.ResponseWriter, r *http.Request) {
	dev := "/dev/" + chi.URLParam(r, "name")
	rep, err := s.readSmart(r.Context(), dev)
	if err != nil {
		writeSmartError(w, err)
		return
	}
	s.metrics.SetSmartVerdict(dev, verdictGauge(rep.Verdict))
	writeJSON(w, rep)
}

func (s *Server) handleSmartTest(w http.ResponseWriter, r *http.Request) {
	dev := "/dev/" + chi.URLParam(r, "name")
	var body struct {
		Type string `json:"type"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	var (
		h   health.TestHandle
		err error
	)
	switch body.Type {
	case "", "short":
		h, err = s.prober.RunQuickTest(r.Context(), dev)
	case "long":
		h, err = s.prober.RunLongTest(r.Context(), dev)
	default:
		httpx.WriteError(w, http.StatusBadRequest, "type must be short or long")
		return
	}
	if err != nil {
		writeSmartError(w, err)
		return
	}
	writeJSON(w, h)
}

func (s *Server) handlePlanCreate(w http.ResponseWriter, r *http.Request) {
	var intent planner.Intent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	snap, err := s.snapshot(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	// a held device is not plannable either
	holds := s.exec.Holds()
	for i := range snap.Devices {
		if _, held := holds[snap.Devices[i].Path]; held {
			snap.Devices[i].Role = inventory.RoleHeld
		}
	}
	plan, err := planner.Build(intent, snap)
	if err != nil {
		var ve *planner.ValidationError
		if errors.As(err, &ve) {
			httpx.WriteTypedError(w, http.StatusUnprocessableEntity, "plan.invalid", ve.Msg)
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	token, err := s.exec.Register(plan)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"plan": plan}
	if token != "" {
		resp["confirm_token"] = token
	}
	writeJSON(w, resp)
}

func (s *Server) handlePlanGet(w http.ResponseWriter, r *http.Request) {
	p, ok := s.exec.Plan(chi.URLParam(r, "id"))
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "unknown plan")
		return
	}
	writeJSON(w, p)
}

func (s *Server) handlePlanApply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		ConfirmToken string `json:"confirm_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	tx, err := s.exec.Execute(id, body.ConfirmToken)
	switch {
	case errors.Is(err, executor.ErrUnknownPlan):
		httpx.WriteError(w, http.StatusNotFound, "unknown plan")
	case errors.Is(err, executor.ErrConfirmationRequired):
		httpx.WriteTypedError(w, http.StatusPreconditionRequired, "confirm.required",
			"destructive plan needs a valid confirm_token")
	case errors.Is(err, executor.ErrDeviceBusy):
		httpx.WriteTypedError(w, http.StatusConflict, "device.busy", err.Error())
	case errors.Is(err, executor.ErrAlreadyRunning):
		httpx.WriteTypedError(w, http.StatusConflict, "plan.running", err.Error())
	case err != nil:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, tx)
	}
}

func (s *Server) handleTxGet(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.exec.Tx(chi.URLParam(r, "id"))
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "unknown transaction")
		return
	}
	writeJSON(w, tx)
}

func (s *Server) handleTxCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.exec.Cancel(id) {
		httpx.WriteError(w, http.StatusConflict, "transaction is not running")
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func writeSmartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, health.ErrToolMissing):
		httpx.WriteTypedError(w, http.StatusServiceUnavailable, "smart.tool_missing", err.Error())
	case errors.Is(err, health.ErrUnsupportedDevice):
		httpx.WriteTypedError(w, http.StatusUnprocessableEntity, "smart.unsupported", err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

func verdictGauge(v health.Verdict) float64 {
	switch v {
	case health.VerdictPass:
		return 1
	case health.VerdictFail:
		return 0
	default:
		return -1
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
