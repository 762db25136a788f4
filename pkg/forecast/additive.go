package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nicktill/ridership/pkg/config"
	"github.com/nicktill/ridership/pkg/ridership"
)

// Model defaults
const (
	DefaultChangepoints       = 10
	DefaultChangepointRange   = 0.8
	DefaultChangepointPenalty = 1.0
	DefaultSeasonalityPenalty = 0.01
)

// seasonality is a Fourier series with a fixed period in days.
type seasonality struct {
	name    string
	period  float64
	order   int
	minSpan float64 // days of history needed before it is fitted
}

var seasonalities = []seasonality{
	{name: "weekly", period: 7, order: 3, minSpan: 7},
	{name: "monthly", period: 30.4375, order: 5, minSpan: 61},
	{name: "yearly", period: 365.25, order: 10, minSpan: 730},
}

// Additive fits a piecewise-linear trend plus Fourier seasonalities by
// penalized least squares. Intercept and slope are unpenalized; changepoint
// and seasonal coefficients carry a ridge penalty.
type Additive struct {
	Changepoints       int
	ChangepointRange   float64
	ChangepointPenalty float64
	SeasonalityPenalty float64
	IntervalWidth      float64
}

// NewAdditive returns an additive forecaster with default settings and the
// given interval width (0 < w < 1).
func NewAdditive(intervalWidth float64) *Additive {
	if intervalWidth <= 0 || intervalWidth >= 1 {
		intervalWidth = config.DefaultIntervalWidth
	}
	return &Additive{
		Changepoints:       DefaultChangepoints,
		ChangepointRange:   DefaultChangepointRange,
		ChangepointPenalty: DefaultChangepointPenalty,
		SeasonalityPenalty: DefaultSeasonalityPenalty,
		IntervalWidth:      intervalWidth,
	}
}

// design lays out the regression columns for one fitted series:
// intercept, slope, one hinge per changepoint, then sin/cos pairs per seasonality.
type design struct {
	start        time.Time
	span         float64   // days
	changepoints []float64 // scaled time in [0, 1]
	seasons      []seasonality
}

func (d *design) width() int {
	w := 2 + len(d.changepoints)
	for _, s := range d.seasons {
		w += 2 * s.order
	}
	return w
}

// trendColumns is the number of leading columns that make up the trend.
func (d *design) trendColumns() int {
	return 2 + len(d.changepoints)
}

func (d *design) row(date time.Time, dst []float64) {
	t := daysBetween(d.start, date) / d.span
	dst[0] = 1
	dst[1] = t
	col := 2
	for _, cp := range d.changepoints {
		dst[col] = math.Max(0, t-cp)
		col++
	}

	// Phase uses absolute days so seasonal shape stays tied to the calendar
	abs := float64(date.Unix()) / 86400
	for _, s := range d.seasons {
		for k := 1; k <= s.order; k++ {
			x := 2 * math.Pi * float64(k) * abs / s.period
			dst[col] = math.Sin(x)
			dst[col+1] = math.Cos(x)
			col += 2
		}
	}
}

func (a *Additive) newDesign(s Series) *design {
	d := &design{start: s[0].Date, span: s.SpanDays()}

	n := min(a.Changepoints, len(s)/7)
	if n > 0 {
		hist := int(math.Floor(a.ChangepointRange * float64(len(s)-1)))
		seen := make(map[int]bool, n)
		for j := 1; j <= n; j++ {
			idx := int(math.Round(float64(j) * float64(hist) / float64(n)))
			if idx <= 0 || seen[idx] {
				continue
			}
			seen[idx] = true
			d.changepoints = append(d.changepoints, daysBetween(d.start, s[idx].Date)/d.span)
		}
	}

	for _, season := range seasonalities {
		if d.span >= season.minSpan {
			d.seasons = append(d.seasons, season)
		}
	}
	return d
}

func (a *Additive) penalties(d *design) []float64 {
	p := make([]float64, d.width())
	for i := 2; i < d.trendColumns(); i++ {
		p[i] = a.ChangepointPenalty
	}
	for i := d.trendColumns(); i < len(p); i++ {
		p[i] = a.SeasonalityPenalty
	}
	return p
}

// Fit solves the penalized normal equations (XᵀX + Λ)β = Xᵀy with a
// Cholesky factorization. Values are scaled by the largest absolute
// observation so the penalties do not depend on ridership magnitude.
func (a *Additive) Fit(ctx context.Context, s Series) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	d := a.newDesign(s)
	n, p := len(s), d.width()

	scale := 0.0
	for _, o := range s {
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			return nil, &ridership.ForecastError{Reason: fmt.Sprintf("non-finite value on %s", o.Date.Format(time.DateOnly))}
		}
		scale = math.Max(scale, math.Abs(o.Value))
	}
	if scale == 0 {
		scale = 1
	}

	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, o := range s {
		d.row(o.Date, x.RawRowView(i))
		y.SetVec(i, o.Value/scale)
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	for i, pen := range a.penalties(d) {
		xtx.SetSym(i, i, xtx.At(i, i)+pen)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, &ridership.ForecastError{Reason: "normal equations are not positive definite"}
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, &ridership.ForecastError{Reason: "solve failed", Err: err}
	}
	for i := 0; i < beta.Len(); i++ {
		if v := beta.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ridership.ForecastError{Reason: "fit produced non-finite coefficients"}
		}
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	var ssr float64
	for i := 0; i < n; i++ {
		r := y.AtVec(i) - fitted.AtVec(i)
		ssr += r * r
	}
	dof := n - 2
	if dof < 1 {
		dof = n
	}

	coef := make([]float64, p)
	for i := range coef {
		coef[i] = beta.AtVec(i)
	}
	return &additiveModel{
		series: s,
		design: d,
		coef:   coef,
		scale:  scale,
		sigma:  math.Sqrt(ssr / float64(dof)),
		z:      distuv.UnitNormal.Quantile(0.5 + a.IntervalWidth/2),
		width:  a.IntervalWidth,
	}, nil
}

type additiveModel struct {
	series Series
	design *design
	coef   []float64
	scale  float64
	sigma  float64 // residual spread, scaled units
	z      float64
	width  float64
}

func (m *additiveModel) Predict(horizonDays int) (*Result, error) {
	if horizonDays < 0 {
		return nil, &ridership.ForecastError{Reason: fmt.Sprintf("horizon must not be negative, got %d", horizonDays)}
	}

	n := len(m.series)
	res := &Result{
		Points:        make([]Point, 0, n+horizonDays),
		History:       n,
		Horizon:       horizonDays,
		IntervalWidth: m.width,
		Changepoints:  len(m.design.changepoints),
	}
	for _, s := range m.design.seasons {
		res.Seasonalities = append(res.Seasonalities, s.name)
	}

	row := make([]float64, len(m.coef))
	for _, o := range m.series {
		p := m.point(o.Date, 0, row)
		actual := o.Value
		p.Actual = &actual
		res.Points = append(res.Points, p)
	}
	last := m.series[n-1].Date
	for h := 1; h <= horizonDays; h++ {
		p := m.point(last.AddDate(0, 0, h), h, row)
		p.Future = true
		res.Points = append(res.Points, p)
	}
	return res, nil
}

// point evaluates the model on one date. Bounds widen with the number of
// days past the end of history.
func (m *additiveModel) point(date time.Time, ahead int, row []float64) Point {
	m.design.row(date, row)
	var trend, seasonal float64
	split := m.design.trendColumns()
	for i, c := range m.coef {
		if i < split {
			trend += c * row[i]
		} else {
			seasonal += c * row[i]
		}
	}

	spread := m.z * m.sigma * math.Sqrt(1+float64(ahead)/float64(len(m.series)))
	value := trend + seasonal
	return Point{
		Date:     date,
		Value:    value * m.scale,
		Lower:    (value - spread) * m.scale,
		Upper:    (value + spread) * m.scale,
		Trend:    trend * m.scale,
		Seasonal: seasonal * m.scale,
	}
}
