package pricing

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
)

// Thresholds are the price boundaries used to classify a curve. Every price
// maps to exactly one level: price <= CheapMax is Cheap, price >= HighMin is
// High, everything else is Medium.
type Thresholds struct {
	CheapMax float64 `json:"cheapMax"`
	HighMin  float64 `json:"highMin"`
}

// Classifier labels price hours with a cost level.
type Classifier struct {
	// Dynamic derives thresholds from the curve's 25th/75th percentiles each
	// cycle instead of using the static thresholds.
	Dynamic bool
	Static  Thresholds
}

// New creates a classifier in dynamic mode.
func New() *Classifier {
	return &Classifier{Dynamic: true}
}

// NewStatic creates a classifier with fixed thresholds.
func NewStatic(cheapMax, highMin float64) *Classifier {
	return &Classifier{Static: Thresholds{CheapMax: cheapMax, HighMin: highMin}}
}

// Classify labels every price hour in the curve. The returned slice preserves
// the input order.
func (c *Classifier) Classify(ctx context.Context, prices []types.Price) ([]types.ClassifiedPrice, Thresholds) {
	th := c.Static
	if c.Dynamic && len(prices) > 0 {
		values := make([]float64, 0, len(prices))
		for _, p := range prices {
			values = append(values, p.PerKWH)
		}
		th = Thresholds{
			CheapMax: Percentile(values, 25),
			HighMin:  Percentile(values, 75),
		}
		log.Ctx(ctx).DebugContext(ctx, "dynamic thresholds computed",
			slog.Float64("cheapMax", th.CheapMax),
			slog.Float64("highMin", th.HighMin),
			slog.Int("points", len(prices)),
		)
	}

	out := make([]types.ClassifiedPrice, 0, len(prices))
	for _, p := range prices {
		out = append(out, types.ClassifiedPrice{Price: p, Level: th.Level(p.PerKWH)})
	}
	return out, th
}

// Level maps a single price to its cost level.
func (t Thresholds) Level(price float64) types.CostLevel {
	switch {
	case price <= t.CheapMax:
		return types.CostLevelCheap
	case price >= t.HighMin:
		return types.CostLevelHigh
	default:
		return types.CostLevelMedium
	}
}

// Percentile computes the p-th percentile of values using linear
// interpolation between closest ranks. The input is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
