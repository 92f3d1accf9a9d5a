package subscription

import (
	"errors"
	"time"
)

var (
	// ErrPlanNotFound occurs when a checkout names an unknown plan.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrTransactionNotFound occurs when no checkout transaction matches.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Billing periods a plan can carry.
const (
	PeriodMonth = "month"
	PeriodYear  = "year"
)

// Transaction statuses.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
)

// Plan is a purchasable subscription tier.
type Plan struct {
	ID           string
	Name         string
	PriceKopeks  int64
	Currency     string
	Period       string
	// IncludedCredit is granted to the wallet's included pool on each
	// successful renewal; zero grants nothing.
	IncludedCredit int64
}

// PlanResolver looks up plan definitions.
type PlanResolver interface {
	Resolve(planID string) (Plan, error)
}

// StaticPlanResolver serves a fixed plan catalog.
type StaticPlanResolver struct {
	plans map[string]Plan
}

// NewStaticPlanResolver indexes the catalog by plan id.
func NewStaticPlanResolver(plans []Plan) *StaticPlanResolver {
	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}
	return &StaticPlanResolver{plans: byID}
}

func (r *StaticPlanResolver) Resolve(planID string) (Plan, error) {
	plan, ok := r.plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan, nil
}

// Transaction is one checkout attempt for a plan purchase.
type Transaction struct {
	ID                string
	UserID            string
	PlanID            string
	Status            string
	AmountKopeks      int64
	Currency          string
	ProviderPaymentID string
	ProviderStatus    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Subscription is the user's active plan state.
type Subscription struct {
	ID          string
	UserID      string
	PlanID      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the subscription covers the given instant.
func (s Subscription) Active(now time.Time) bool {
	return now.Before(s.PeriodEnd)
}
