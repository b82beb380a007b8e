package main

import (
	"fmt"
	"os"

	"github.com/dark-ant616/DarkDiskz/internal/agent"
	"github.com/dark-ant616/DarkDiskz/internal/config"
)

func main() {
	cfg := config.FromEnv()
	if err := agent.Start(cfg.AgentSocket, cfg.EtcDir); err != nil {
		fmt.Fprintln(os.Stderr, "darkdiskz-agent:", err)
		os.Exit(1)
	}
}
