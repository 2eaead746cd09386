// Command naming-registryd runs a single node of the naming registry:
// config load, logging, signal-driven shutdown, supervisor construction,
// then a blocking run until SIGTERM/SIGINT, following the teacher's
// cmd/sentinel/main.go construction order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nacos-raft/naming-registry/internal/config"
	"github.com/nacos-raft/naming-registry/internal/logging"
	"github.com/nacos-raft/naming-registry/internal/supervisor"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(os.Getenv("NACOS_LOG_JSON") == "true")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log.Info("starting naming registry",
		"raft_node_id", cfg.RaftNodeID,
		"raft_node_addr", cfg.RaftNodeAddr,
		"config_db_dir", cfg.ConfigDBDir,
	)

	sup, err := supervisor.New(cfg, log)
	if err != nil {
		log.Error("failed to construct supervisor", "error", err)
		os.Exit(1)
	}

	if err := sup.Run(ctx); err != nil {
		log.Error("naming registry exited with error", "error", err)
		os.Exit(1)
	}
}
