// cmd/ticksim writes simulated ticks for the configured instruments into
// the Redis tick streams, so the monitor can run without live collectors.
//
// Every tick applies a small random walk; every --shock-every ticks one
// instrument jumps by up to --shock-pct percent with a volume burst, which
// is enough to exercise the anomaly and alert paths.
//
// Usage:
//
//	go run ./cmd/ticksim --config=config.yaml --interval=1s --shock-every=120
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stock-sentinel/config"
	"stock-sentinel/internal/model"
	redisstore "stock-sentinel/internal/store/redis"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Code      string
	Price     float64
	PrevClose float64
	Amount    float64
	PE        float64
	PB        float64
}

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	return max(price*(1+pct), 0.01)
}

// tick advances one instrument and returns its new sample.
func tick(rng *rand.Rand, inst *instrument, at time.Time, shockPct float64) model.PriceSample {
	open := inst.Price
	inst.Price = walkPrice(rng, inst.Price)
	volume := float64(rng.Intn(100) + 1)
	if shockPct != 0 {
		inst.Price = max(inst.Price*(1+shockPct/100), 0.01)
		volume *= 5
	}
	inst.Amount += inst.Price * volume
	return model.PriceSample{
		Time:      at,
		Open:      open,
		High:      max(open, inst.Price),
		Low:       min(open, inst.Price),
		Price:     inst.Price,
		Volume:    volume,
		Amount:    inst.Amount,
		PrevClose: inst.PrevClose,
	}
}

// quote derives the fundamentals a quote collector would publish.
func quote(inst *instrument) model.Fundamentals {
	fd := model.Fundamentals{PE: model.Some(inst.PE), PB: model.Some(inst.PB)}
	if inst.PrevClose > 0 {
		fd.ChangePct = model.Some(model.Round((inst.Price-inst.PrevClose)/inst.PrevClose*100, 2))
	}
	return fd
}

// fundamentalsEvery is how many ticks pass between fundamentals refreshes.
const fundamentalsEvery = 60

func publishFundamentals(ctx context.Context, w *redisstore.Writer, insts []instrument) {
	for i := range insts {
		if err := w.PutFundamentals(ctx, insts[i].Code, quote(&insts[i])); err != nil {
			log.Printf("[ticksim] fundamentals %s: %v", insts[i].Code, err)
		}
	}
}

func run(ctx context.Context, w *redisstore.Writer, insts []instrument, interval time.Duration, shockEvery int, shockPct float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := range insts {
		insts[i].PE = model.Round(10+rng.Float64()*30, 2)
		insts[i].PB = model.Round(1+rng.Float64()*4, 2)
	}
	publishFundamentals(ctx, w, insts)

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n++
			shocked := -1
			if shockEvery > 0 && n%shockEvery == 0 {
				shocked = rng.Intn(len(insts))
			}
			for i := range insts {
				pct := 0.0
				if i == shocked {
					pct = (rng.Float64()*2 - 1) * shockPct
					log.Printf("[ticksim] shock %s by %.2f%%", insts[i].Code, pct)
				}
				s := tick(rng, &insts[i], now, pct)
				if err := w.AppendSamples(ctx, insts[i].Code, []model.PriceSample{s}); err != nil {
					log.Printf("[ticksim] append %s: %v", insts[i].Code, err)
				}
			}
			if n%fundamentalsEvery == 0 {
				publishFundamentals(ctx, w, insts)
			}
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "Path to the YAML config file (optional)")
	codes := flag.String("codes", "", "Comma-separated codes (default: instruments from config)")
	start := flag.Float64("price", 100, "Starting price for every instrument")
	interval := flag.Duration("interval", time.Second, "Tick interval")
	shockEvery := flag.Int("shock-every", 120, "Inject a jump every N ticks (0 = never)")
	shockPct := flag.Float64("shock-pct", 6, "Maximum jump size in percent")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[ticksim] config: %v", err)
	}

	insts := parseInstruments(*codes, cfg.Instruments, *start)
	if len(insts) == 0 {
		log.Fatalf("[ticksim] no instruments: pass --codes or list instruments in the config")
	}
	log.Printf("[ticksim] instruments: %d, interval: %s, shock every %d ticks", len(insts), *interval, *shockEvery)

	client, err := redisstore.NewClient(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		log.Fatalf("[ticksim] redis: %v", err)
	}
	cb := redisstore.NewCircuitBreaker(cfg.Redis.BreakerThreshold, cfg.Redis.BreakerCooldown)
	w := redisstore.NewWriter(client, cb, redisstore.WriterOptions{})
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	run(ctx, w, insts, *interval, *shockEvery, *shockPct)
	log.Println("[ticksim] stopped")
}

func parseInstruments(codes string, configured []model.Instrument, price float64) []instrument {
	var list []string
	for _, c := range strings.Split(codes, ",") {
		if c = strings.TrimSpace(c); c != "" {
			list = append(list, c)
		}
	}
	if len(list) == 0 {
		for _, inst := range configured {
			list = append(list, inst.Code)
		}
	}
	out := make([]instrument, len(list))
	for i, c := range list {
		out[i] = instrument{Code: c, Price: price, PrevClose: price}
	}
	return out
}
