package main

import (
	"log"

	"github.com/luo-one/mailkeeper/internal/cli"
	"github.com/luo-one/mailkeeper/internal/config"
	"github.com/luo-one/mailkeeper/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cli.Execute(cfg, logger.New(cfg.LogLevel, cfg.LogFormat))
}
