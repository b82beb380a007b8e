package main

import (
	"fmt"
	"net/http"

	"github.com/dark-ant616/DarkDiskz/internal/config"
	"github.com/dark-ant616/DarkDiskz/internal/server"
)

func main() {
	cfg := config.FromEnv()
	srv := server.New(cfg)

	sched := srv.StartScheduler()
	defer sched.Stop()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	server.Logger(cfg).Info().Msgf("darkdiskzd listening on http://%s", addr)

	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		server.Logger(cfg).Fatal().Err(err).Msg("server exited")
	}
}
