package forecast

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"stock-sentinel/internal/indicator"
	"stock-sentinel/internal/model"
)

// Dataset is the training matrix built from daily bars.
type Dataset struct {
	Columns []string
	X       [][]float64
	Y       []float64 // close price
	Dates   []time.Time
}

// Rows returns the number of training rows.
func (d Dataset) Rows() int { return len(d.Y) }

// column is one candidate feature with possibly undefined entries.
type column struct {
	name   string
	values []model.Optional
}

// BuildDataset assembles features for the last window bars.
//
// Base columns are open, high, low and volume, plus change% when any bar
// has a reference price (missing entries are 0). Technical columns (MACD,
// Hist, Signal, RSI, MA5, MA10, MA20) are computed over all bars so the
// earlier bars act as warmup, and are kept when at least one row in the
// window is defined; undefined entries take the column mean. Sentiment
// aggregates are joined by calendar date with missing days as 0. Bars
// without open/high/low are dropped.
func BuildDataset(code string, bars []model.PriceSample, sentiment []model.SentimentDay, window int, icfg indicator.Config) Dataset {
	bars, _ = model.NormalizeSamples(bars)
	series := indicator.ComputeSeries(code, bars, icfg)

	start := 0
	if window > 0 && len(bars) > window {
		start = len(bars) - window
	}

	byDay := make(map[string]model.SentimentDay, len(sentiment))
	for _, d := range sentiment {
		byDay[d.Date.Format("2006-01-02")] = d
	}

	var (
		rows  []int
		cols  = []column{{name: "open"}, {name: "high"}, {name: "low"}, {name: "volume"}}
		chg   = column{name: "change_pct"}
		techs = []column{{name: "macd"}, {name: "macd_hist"}, {name: "signal"}, {name: "rsi"}, {name: "ma5"}, {name: "ma10"}, {name: "ma20"}}
		sents = []column{{name: "avg_sentiment"}, {name: "news_count"}, {name: "avg_correlation"}}
		anyChange bool
	)
	for i := start; i < len(bars); i++ {
		b := bars[i]
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 {
			continue
		}
		rows = append(rows, i)
		cols[0].values = append(cols[0].values, model.Some(b.Open))
		cols[1].values = append(cols[1].values, model.Some(b.High))
		cols[2].values = append(cols[2].values, model.Some(b.Low))
		cols[3].values = append(cols[3].values, model.Some(b.Volume))

		var prev *model.PriceSample
		if i > 0 {
			prev = &bars[i-1]
		}
		pct, ok := b.ChangePct(prev)
		anyChange = anyChange || ok
		chg.values = append(chg.values, model.Some(pct))

		s := series[i]
		for j, v := range []model.Optional{model.Some(s.MACD), model.Some(s.Hist), model.Some(s.Signal), s.RSI, s.MA5, s.MA10, s.MA20} {
			techs[j].values = append(techs[j].values, v)
		}

		day := byDay[b.Time.Format("2006-01-02")]
		sents[0].values = append(sents[0].values, model.Some(day.AvgSentiment))
		sents[1].values = append(sents[1].values, model.Some(float64(day.NewsCount)))
		sents[2].values = append(sents[2].values, model.Some(day.AvgCorrelation))
	}

	if anyChange {
		cols = append(cols, chg)
	}
	for _, c := range techs {
		if imputeMean(c.values) {
			cols = append(cols, c)
		}
	}
	cols = append(cols, sents...)

	ds := Dataset{
		X:     make([][]float64, len(rows)),
		Y:     make([]float64, len(rows)),
		Dates: make([]time.Time, len(rows)),
	}
	for _, c := range cols {
		ds.Columns = append(ds.Columns, c.name)
	}
	for r, i := range rows {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c.values[r].Value
		}
		ds.X[r] = row
		ds.Y[r] = bars[i].Price
		ds.Dates[r] = bars[i].Time
	}
	return ds
}

// imputeMean replaces undefined entries with the mean of defined ones.
// Returns false when no entry is defined.
func imputeMean(values []model.Optional) bool {
	sum, n := 0.0, 0
	for _, v := range values {
		if v.Valid {
			sum += v.Value
			n++
		}
	}
	if n == 0 {
		return false
	}
	mean := sum / float64(n)
	for i := range values {
		if !values[i].Valid {
			values[i] = model.Some(mean)
		}
	}
	return true
}

// scaler standardizes columns with the population standard deviation.
// Constant columns get scale 1.
type scaler struct {
	mean  []float64
	scale []float64
}

func fitScaler(x [][]float64) scaler {
	if len(x) == 0 {
		return scaler{}
	}
	d := len(x[0])
	s := scaler{mean: make([]float64, d), scale: make([]float64, d)}
	col := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		s.mean[j], s.scale[j] = fitColumn(col)
	}
	return s
}

func fitColumn(col []float64) (mean, scale float64) {
	mean, scale = stat.PopMeanStdDev(col, nil)
	if scale == 0 || math.IsNaN(scale) {
		scale = 1
	}
	return mean, scale
}

func (s scaler) transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.mean[j]) / s.scale[j]
	}
	return out
}
