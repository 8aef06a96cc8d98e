package main

import (
	"fmt"
	"os"

	"ntt/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg, err := parseFlags()
	if err != nil {
		return fmt.Errorf("parse flags:\n%w", err)
	}

	logger.Init(cfg.LogLevel)

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays the node configuration at startup.
func printStartupInfo(cfg *Config) {
	logger.Info("starting nttd",
		"chain", cfg.Chain,
		"mode", cfg.Mode,
		"manager", cfg.managerAddr.Short(),
		"token", cfg.tokenAddr.Short(),
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
	)

	if cfg.InsecureAttest {
		logger.Warn("unsigned attestations accepted, development mode only")
	}
}
