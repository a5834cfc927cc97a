package report

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"FinBand/internal/domain/models"
)

const recentPeriods = 10

// Summary is the numeric digest of a price series handed to the external
// report writer alongside the forecast.
type Summary struct {
	Symbol          string
	Points          int
	From            time.Time
	To              time.Time
	Price           float64
	ChangePct       float64
	PeriodHigh      float64
	PeriodLow       float64
	AvgVolume       float64
	RSI             float64
	MACD            float64
	MACDHist        float64
	SMA20           float64
	SMA50           float64
	VsSMA20Pct      float64
	VsSMA50Pct      float64
	SMA20vs50       float64
	RecentHigh      float64
	RecentLow       float64
	RecentAvgVolume float64
}

// Summarize digests the series. Missing optional indicator columns yield NaN
// fields; Close, High, Low and Volume are required.
func Summarize(s *models.Series) (Summary, error) {
	var missing []string
	for _, c := range []string{models.ColClose, models.ColHigh, models.ColLow, models.ColVolume} {
		if _, ok := s.Column(c); !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return Summary{}, &models.MissingColumnError{Columns: missing}
	}
	n := s.Len()
	if n == 0 {
		return Summary{}, &models.EmptySeriesError{}
	}

	closes := s.Columns[models.ColClose]
	last := n - 1
	recent := n - recentPeriods
	if recent < 0 {
		recent = 0
	}

	sum := Summary{
		Symbol:          s.Symbol,
		Points:          n,
		From:            s.Timestamps[0],
		To:              s.Timestamps[last],
		Price:           closes[last],
		ChangePct:       pct(closes[last], closes[0]),
		PeriodHigh:      maxOf(s.Columns[models.ColHigh]),
		PeriodLow:       minOf(s.Columns[models.ColLow]),
		AvgVolume:       meanOf(s.Columns[models.ColVolume]),
		RSI:             s.Value(models.ColRSI14, last),
		MACD:            s.Value(models.ColMACD, last),
		MACDHist:        s.Value(models.ColMACDHist, last),
		SMA20:           s.Value(models.ColSMA20, last),
		SMA50:           s.Value(models.ColSMA50, last),
		RecentHigh:      maxOf(s.Columns[models.ColHigh][recent:]),
		RecentLow:       minOf(s.Columns[models.ColLow][recent:]),
		RecentAvgVolume: meanOf(s.Columns[models.ColVolume][recent:]),
	}
	sum.VsSMA20Pct = pct(sum.Price, sum.SMA20)
	sum.VsSMA50Pct = pct(sum.Price, sum.SMA50)
	sum.SMA20vs50 = pct(sum.SMA20, sum.SMA50)
	return sum, nil
}

// Context is everything the report writer receives for one symbol.
type Context struct {
	Summary Summary
	Report  *models.ForecastReport
}

var funcs = template.FuncMap{
	"f2":    func(v float64) string { return fmtNum(v, 2) },
	"f4":    func(v float64) string { return fmtNum(v, 4) },
	"pct":   func(v float64) string { return fmtNum(v*100, 1) + "%" },
	"vol":   func(v float64) string { return fmtNum(v, 0) },
	"date":  func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	"level": func(q models.QuantileLevel) string { return fmt.Sprintf("P%02.0f", float64(q)*100) },
}

var contextTmpl = template.Must(template.New("context").Funcs(funcs).Parse(strings.TrimLeft(`
Stock Data Summary for {{.Summary.Symbol}}:
- Total data points: {{.Summary.Points}}
- Date range: {{date .Summary.From}} to {{date .Summary.To}}
- Current price: ${{f2 .Summary.Price}}
- Price change from start: {{f2 .Summary.ChangePct}}%
- Period high: ${{f2 .Summary.PeriodHigh}}
- Period low: ${{f2 .Summary.PeriodLow}}
- Average volume: {{vol .Summary.AvgVolume}}

Current Technical Indicators:
- RSI (14): {{f2 .Summary.RSI}}
- MACD: {{f4 .Summary.MACD}}
- MACD Histogram: {{f4 .Summary.MACDHist}}
- SMA 20: ${{f2 .Summary.SMA20}}
- SMA 50: ${{f2 .Summary.SMA50}}

Price vs Moving Averages:
- Price vs SMA 20: {{f2 .Summary.VsSMA20Pct}}%
- Price vs SMA 50: {{f2 .Summary.VsSMA50Pct}}%
- SMA 20 vs SMA 50: {{f2 .Summary.SMA20vs50}}%

Recent Performance (last 10 periods):
- High: ${{f2 .Summary.RecentHigh}}
- Low: ${{f2 .Summary.RecentLow}}
- Average Volume: {{vol .Summary.RecentAvgVolume}}
{{with .Report}}{{with .Live}}
Quantile Forecast (next {{.Horizon}} periods from {{date .AsOf}}):
{{range $q := .Forecast.Levels}}- {{level $q}}: ${{f2 (index $.Report.Live.Forecast $q)}}
{{end}}{{end}}{{with .Backtest}}
Backtest ({{len .Rows}} periods, {{.Causality}} walk-forward):
{{end}}{{with .Scorecard}}{{range .Levels}}- {{level .Level}} vs {{.Target}}: hit rate {{pct .HitRate}}, pinball {{f4 .PinballLoss}}
{{end}}{{range .Bands}}- {{pct .Nominal}} band contained the realised range {{pct .Containment}} of the time
{{end}}{{end}}{{end}}`, "\n")))

// Render formats the context as plain text.
func Render(c Context) (string, error) {
	var buf bytes.Buffer
	if err := contextTmpl.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("render report context: %w", err)
	}
	return buf.String(), nil
}

func pct(a, b float64) float64 {
	if b == 0 || math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return (a - b) / b * 100
}

func fmtNum(v float64, prec int) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	if prec == 0 {
		return thousands(fmt.Sprintf("%.0f", v))
	}
	return fmt.Sprintf("%.*f", prec, v)
}

func thousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Reductions skip NaN.
func maxOf(v []float64) float64 {
	out := math.NaN()
	for _, x := range v {
		if !math.IsNaN(x) && (math.IsNaN(out) || x > out) {
			out = x
		}
	}
	return out
}

func minOf(v []float64) float64 {
	out := math.NaN()
	for _, x := range v {
		if !math.IsNaN(x) && (math.IsNaN(out) || x < out) {
			out = x
		}
	}
	return out
}

func meanOf(v []float64) float64 {
	var sum float64
	n := 0
	for _, x := range v {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
