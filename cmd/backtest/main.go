// cmd/backtest replays stored daily bars from SQLite through the analysis
// stages (indicators, anomaly detection, alert rules, decision fusion) to
// check thresholds without live market data.
//
// Usage:
//
//	go run ./cmd/backtest --stock=sh600519,sz000001 --days=250
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"stock-sentinel/config"
	"stock-sentinel/internal/alert"
	"stock-sentinel/internal/anomaly"
	"stock-sentinel/internal/decision"
	"stock-sentinel/internal/indicator"
	"stock-sentinel/internal/model"
	"stock-sentinel/internal/sentinel"
	sqlitestore "stock-sentinel/internal/store/sqlite"
)

// volumeBaseline is the number of oldest bars kept as the anomaly
// detector's volume baseline.
const volumeBaseline = 20

// result summarizes one instrument's replay.
type result struct {
	Inst      model.Instrument
	Bars      int
	Anomalies []model.AnomalyEvent
	Alerts    map[string]int
	Decision  model.DecisionResult
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	stocks := flag.String("stock", "", "Comma-separated codes (default: instruments from config)")
	days := flag.Int("days", 250, "Daily bars to replay per instrument")
	cfgPath := flag.String("config", "", "Path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] config: %v", err)
	}
	insts := parseInstruments(*stocks, cfg.Instruments)
	if len(insts) == 0 {
		log.Fatal("[backtest] no instruments: pass --stock or list instruments in the config")
	}

	// Open SQLite
	reader, err := sqlitestore.NewReader(cfg.SQLite.Path)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	st := sentinel.NewStages(cfg)
	var results []result
	for _, inst := range insts {
		if ctx.Err() != nil {
			break
		}
		bars, err := reader.DailyBars(ctx, inst.Code, *days)
		if err != nil {
			log.Printf("[backtest] %s: %v", inst, err)
			continue
		}
		bars, dropped := model.NormalizeSamples(bars)
		if dropped > 0 {
			log.Printf("[backtest] %s: dropped %d invalid bars", inst, dropped)
		}
		fd, err := reader.LatestFundamentals(ctx, inst.Code)
		if err != nil {
			log.Printf("[backtest] %s: fundamentals: %v", inst, err)
		}
		r := replay(st, inst, bars, fd)
		results = append(results, r)

		for i, ev := range r.Anomalies {
			if i < 10 || i == len(r.Anomalies)-1 {
				fmt.Printf("  [%s] %s %-6s %+6.2f%% vol x%.1f\n",
					ev.Time.Format("2006-01-02"), inst.Code, ev.Type, ev.ChangePct, ev.VolumeSpike)
			}
		}
	}

	// Print summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║                 BACKTEST COMPLETE                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════╣")
	for _, r := range results {
		fmt.Printf("║  %-12s bars %-4d anomalies %-4d score %6.2f %-3s ║\n",
			r.Inst.Code, r.Bars, len(r.Anomalies), r.Decision.Score, buyLabel(r.Decision.CanBuy))
		for _, typ := range sortedKeys(r.Alerts) {
			fmt.Printf("║    %-30s %-18d ║\n", typ, r.Alerts[typ])
		}
	}
	fmt.Println("╚══════════════════════════════════════════════════════╝")
}

// replay runs the stages over oldest-first daily bars.
func replay(st sentinel.Stages, inst model.Instrument, bars []model.PriceSample, fd *model.Fundamentals) result {
	r := result{Inst: inst, Bars: len(bars), Alerts: make(map[string]int)}
	if len(bars) == 0 {
		return r
	}
	series := indicator.ComputeSeries(inst.Code, bars, st.Indicator)

	// One scan over the whole history; the oldest bars form the volume baseline.
	ac := st.Anomaly
	ac.Window = len(bars)
	ac.Recent = max(len(bars)-volumeBaseline, 1)
	r.Anomalies = anomaly.NewDetector(ac).Scan(inst, bars)

	for i := 1; i < len(bars); i++ {
		from := max(0, i-volumeBaseline)
		in := alert.Input{
			Instrument: inst,
			Now:        bars[i].Time,
			Samples:    bars[from : i+1],
			Indicators: []model.IndicatorSnapshot{series[i], series[i-1]},
		}
		for _, a := range st.Rules.Evaluate(in) {
			r.Alerts[a.Type]++
		}
	}

	last := bars[len(bars)-1]
	din := decision.Input{Instrument: inst, Time: last.Time, Fundamentals: fd}
	for i := len(series) - 1; i >= 0; i-- {
		din.Daily = append(din.Daily, series[i])
	}
	for i := len(bars) - 1; i >= 0 && len(din.Prices) < 5; i-- {
		din.Prices = append(din.Prices, bars[i].Price)
	}
	r.Decision = st.Fuser.Decide(din)
	return r
}

func parseInstruments(s string, configured []model.Instrument) []model.Instrument {
	byCode := make(map[string]model.Instrument, len(configured))
	for _, inst := range configured {
		byCode[inst.Code] = inst
	}
	var out []model.Instrument
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if inst, ok := byCode[p]; ok {
			out = append(out, inst)
		} else {
			out = append(out, model.Instrument{Code: p})
		}
	}
	if len(out) == 0 {
		out = append(out, configured...)
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buyLabel(ok bool) string {
	if ok {
		return "BUY"
	}
	return ""
}
