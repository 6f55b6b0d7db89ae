package capacity

import (
	"context"
	"fmt"
	"time"

	"topiary.org/internal/fault"
)

// DefaultWindow is how many recent samples feed the trend line.
const DefaultWindow = 30

// Forecast is a linear projection of a category's utilization.
type Forecast struct {
	Category             string     `json:"category"`
	GeneratedAt          time.Time  `json:"generated_at"`
	Trend                float64    `json:"trend"` // utilization delta per day
	ProjectedUtilization float64    `json:"projected_utilization"`
	BreachDate           *time.Time `json:"breach_date,omitempty"`
}

// Forecaster extrapolates stored utilization samples.
type Forecaster struct {
	store  Store
	window int
	now    func() time.Time
}

// NewForecaster creates a Forecaster reading at most window samples per
// category (DefaultWindow when window is not positive).
func NewForecaster(store Store, window int) *Forecaster {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Forecaster{store: store, window: window, now: time.Now}
}

// Forecast fits a least-squares line through the recent samples and projects
// horizonDays forward from the last observation. BreachDate is the first
// projected day at which utilization reaches 1.0, nil if the trend does not
// cross the limit within the horizon.
func (f *Forecaster) Forecast(ctx context.Context, category string, horizonDays int) (Forecast, error) {
	if horizonDays <= 0 {
		return Forecast{}, fmt.Errorf("%w: horizon must be positive", fault.ErrValidation)
	}
	samples, err := f.store.Recent(ctx, category, f.window)
	if err != nil {
		return Forecast{}, err
	}
	if len(samples) == 0 {
		return Forecast{}, fmt.Errorf("%w: no capacity samples for category %s", fault.ErrNotFound, category)
	}

	slope, intercept := fitLine(samples)
	start := samples[len(samples)-1].Date
	origin := samples[0].Date

	out := Forecast{
		Category:    category,
		GeneratedAt: f.now().UTC(),
		Trend:       slope,
	}

	lastDay := days(origin, start)
	out.ProjectedUtilization = intercept + slope*float64(lastDay+horizonDays)

	for d := 0; d <= horizonDays; d++ {
		projected := intercept + slope*float64(lastDay+d)
		if projected >= 1.0 {
			breach := start.AddDate(0, 0, d)
			out.BreachDate = &breach
			break
		}
	}
	return out, nil
}

// fitLine computes the least-squares slope and intercept of utilization over
// days since the first sample. A single sample yields a flat line.
func fitLine(samples []Metric) (slope, intercept float64) {
	n := float64(len(samples))
	if len(samples) == 1 {
		return 0, samples[0].Utilization
	}
	origin := samples[0].Date
	var sumX, sumY, sumXY, sumXX float64
	for _, m := range samples {
		x := float64(days(origin, m.Date))
		y := m.Utilization
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func days(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}
