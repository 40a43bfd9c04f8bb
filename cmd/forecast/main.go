// cmd/forecast fits the price forecaster for one instrument from the daily
// bars in SQLite, prints the prediction and stores it.
//
// Usage:
//
//	go run ./cmd/forecast --stock=sh600519 --days=5
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-sentinel/config"
	"stock-sentinel/internal/forecast"
	"stock-sentinel/internal/markethours"
	"stock-sentinel/internal/model"
	"stock-sentinel/internal/sentinel"
	sqlitestore "stock-sentinel/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	stock := flag.String("stock", "", "Instrument code to forecast, e.g. sh600519 (required)")
	days := flag.Int("days", 0, "Trading days to predict (0 = prediction_horizon from config)")
	cfgPath := flag.String("config", "", "Path to the YAML config file (optional)")
	dryRun := flag.Bool("dry-run", false, "Print the forecast without storing it")
	flag.Parse()

	if *stock == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *days < 0 || *days > 30 {
		log.Fatalf("[forecast] --days must be between 0 and 30")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[forecast] config: %v", err)
	}

	// Open SQLite
	reader, err := sqlitestore.NewReader(cfg.SQLite.Path)
	if err != nil {
		log.Fatalf("[forecast] sqlite open failed: %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	inst := lookup(cfg, *stock)
	issue := time.Now().In(markethours.CST)
	f := forecast.New(reader, reader, sentinel.ForecastConfig(cfg))

	start := time.Now()
	recs, err := f.Forecast(ctx, inst, *days, issue)
	if errors.Is(err, model.ErrInsufficientTrainingData) {
		log.Fatalf("[forecast] %s: not enough daily bars: %v", inst, err)
	}
	if err != nil {
		log.Fatalf("[forecast] %s: %v", inst, err)
	}
	log.Printf("[forecast] %s: fitted in %s", inst, time.Since(start).Round(time.Millisecond))

	fmt.Printf("%-12s %10s %10s %10s %8s\n", "date", "predicted", "lower", "upper", "std")
	for _, r := range recs {
		fmt.Printf("%-12s %10.2f %10.2f %10.2f %8.3f\n",
			r.TargetDate.Format("2006-01-02"), r.Predicted, r.Lower, r.Upper, r.Std)
	}

	if *dryRun {
		return
	}
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path})
	if err != nil {
		log.Fatalf("[forecast] sqlite writer: %v", err)
	}
	defer writer.Close()
	if err := writer.UpsertForecasts(ctx, recs); err != nil {
		log.Fatalf("[forecast] store: %v", err)
	}
	log.Printf("[forecast] stored %d records for %s", len(recs), inst)
}

// lookup returns the configured instrument for code, or a bare one.
func lookup(cfg *config.Config, code string) model.Instrument {
	for _, inst := range cfg.Instruments {
		if inst.Code == code {
			return inst
		}
	}
	return model.Instrument{Code: code}
}
