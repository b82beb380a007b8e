package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Port        int
	LogLevel    zerolog.Level
	StateDir    string
	EtcDir      string
	AgentSocket string
	// FstabFormat is the fmt template for generated fstab lines:
	// source, mountpoint, fstype, options. Pass/dump fields are fixed at "0 2".
	FstabFormat string
	// StepTimeout bounds each plan step individually, not the plan as a whole.
	StepTimeout time.Duration
}

func FromEnv() Config {
	port := 9400
	if v := os.Getenv("DARKDISKZ_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			port = p
		}
	}

	level := zerolog.InfoLevel
	if v := os.Getenv("DARKDISKZ_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			level = l
		}
	}

	stateDir := os.Getenv("DARKDISKZ_STATE_DIR")
	if stateDir == "" {
		stateDir = "/var/lib/darkdiskz"
	}

	etcDir := os.Getenv("DARKDISKZ_ETC_DIR")
	if etcDir == "" {
		etcDir = "/etc"
	}

	sock := os.Getenv("DARKDISKZ_AGENT_SOCKET")
	if sock == "" {
		sock = "/run/darkdiskz-agent.sock"
	}

	fstabFormat := os.Getenv("DARKDISKZ_FSTAB_FORMAT")
	if fstabFormat == "" {
		fstabFormat = "%s\t%s\t%s\t%s\t0 2"
	}

	stepTimeout := 10 * time.Minute
	if v := os.Getenv("DARKDISKZ_STEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			stepTimeout = d
		}
	}

	return Config{
		Port:        port,
		LogLevel:    level,
		StateDir:    stateDir,
		EtcDir:      etcDir,
		AgentSocket: sock,
		FstabFormat: fstabFormat,
		StepTimeout: stepTimeout,
	}
}
