package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/dark-ant616/DarkDiskz/internal/health"
)

// Schedules is the periodic-work configuration, read from
// <StateDir>/schedules.yaml.
type Schedules struct {
	// SmartScan is a cron expression for the background SMART sweep.
	SmartScan string `yaml:"smart_scan" json:"smart_scan"`
	// Devices limits the sweep; empty means every disk in the inventory.
	Devices []string `yaml:"devices,omitempty" json:"devices,omitempty"`
}

func defaultSchedules() Schedules {
	return Schedules{SmartScan: "0 3 * * *"}
}

func (s *Server) schedulesPath() string {
	return filepath.Join(s.cfg.StateDir, "schedules.yaml")
}

func (s *Server) loadSchedules() Schedules {
	sch := defaultSchedules()
	b, err := os.ReadFile(s.schedulesPath())
	if err != nil {
		return sch
	}
	if err := yaml.Unmarshal(b, &sch); err != nil {
		s.log.Warn().Err(err).Msg("bad schedules.yaml, using defaults")
		return defaultSchedules()
	}
	if sch.SmartScan == "" {
		sch.SmartScan = defaultSchedules().SmartScan
	}
	return sch
}

// StartScheduler runs the periodic SMART sweep. The sweep keeps the
// per-device health gauge fresh even when nobody polls the API.
func (s *Server) StartScheduler() *cron.Cron {
	sch := s.loadSchedules()
	c := cron.New()
	if _, err := c.AddFunc(sch.SmartScan, func() { s.smartSweep(sch.Devices) }); err != nil {
		s.log.Error().Err(err).Str("expr", sch.SmartScan).Msg("invalid smart_scan schedule")
		return c
	}
	c.Start()
	s.log.Info().Str("expr", sch.SmartScan).Msg("smart sweep scheduled")
	return c
}

func (s *Server) smartSweep(only []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	devices := only
	if len(devices) == 0 {
		snap, err := s.snapshot(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("smart sweep: inventory scan failed")
			return
		}
		for _, d := range snap.Devices {
			devices = append(devices, d.Path)
		}
	}
	for _, dev := range devices {
		rep, err := s.readSmart(ctx, dev)
		if err != nil {
			s.log.Debug().Err(err).Str("device", dev).Msg("smart sweep: skipping device")
			continue
		}
		s.metrics.SetSmartVerdict(dev, verdictGauge(rep.Verdict))
		if rep.Verdict == health.VerdictFail {
			s.log.Warn().Str("device", dev).Msg("SMART health check failing")
		}
	}
}

// GET /api/v1/schedules
func (s *Server) handleSchedulesGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.loadSchedules())
}
