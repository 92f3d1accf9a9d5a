package billing

import "context"

// Units measures one metered request.
type Units struct {
	TokensInput  int64
	TokensOutput int64
}

// Rate prices one unit class in kopeks per thousand tokens.
type Rate struct {
	InputPerThousand  int64
	OutputPerThousand int64
}

// Cost splits a price across unit classes.
type Cost struct {
	Input  int64
	Output int64
}

// Total is the combined charge.
func (c Cost) Total() int64 { return c.Input + c.Output }

// RateResolver prices usage for a given model.
type RateResolver interface {
	Resolve(ctx context.Context, model string) (Rate, error)
}

// StaticRateResolver serves a fixed rate table with an optional default.
type StaticRateResolver struct {
	rates       map[string]Rate
	defaultRate Rate
}

// NewStaticRateResolver indexes the table by model name. The default rate
// applies to unknown models.
func NewStaticRateResolver(rates map[string]Rate, defaultRate Rate) *StaticRateResolver {
	return &StaticRateResolver{rates: rates, defaultRate: defaultRate}
}

func (r *StaticRateResolver) Resolve(_ context.Context, model string) (Rate, error) {
	if rate, ok := r.rates[model]; ok {
		return rate, nil
	}
	return r.defaultRate, nil
}

// Price converts measured units into a cost, rounding each class up so
// fractional kopeks always favor the ledger.
func Price(rate Rate, units Units) Cost {
	return Cost{
		Input:  ceilDiv(units.TokensInput*rate.InputPerThousand, 1_000),
		Output: ceilDiv(units.TokensOutput*rate.OutputPerThousand, 1_000),
	}
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
