// cmd/sentinel runs the stock monitor: scheduled analysis cycles, alert
// fan-out, the websocket alert stream and the ops HTTP endpoints.
//
// Usage:
//
//	go run ./cmd/sentinel --config=config.yaml
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"stock-sentinel/config"
	"stock-sentinel/internal/logger"
	"stock-sentinel/internal/sentinel"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to the YAML config file (optional; env vars override)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[sentinel] config: %v", err)
	}
	slogger := logger.Init(cfg.Logging.Service, logger.ParseLevel(cfg.Logging.Level))

	svc, err := sentinel.Open(cfg, slogger)
	if err != nil {
		log.Fatalf("[sentinel] init failed: %v", err)
	}

	if *cfgPath != "" {
		if err := config.Watch(*cfgPath, svc.OnConfigChange); err != nil {
			slogger.Warn("config hot reload disabled", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[sentinel] fatal: %v", err)
	}
}
