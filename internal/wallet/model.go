package wallet

import "time"

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryHold       EntryType = "hold"
	EntryRelease    EntryType = "release"
	EntryCharge     EntryType = "charge"
	EntryTopup      EntryType = "topup"
	EntryAdjustment EntryType = "adjustment"
)

// ReasonHoldOverage marks an adjustment written when the settled amount
// exceeded the held amount.
const ReasonHoldOverage = "hold_overage"

// Wallet is the per-(user, currency) balance state. All amounts are integer
// kopeks. Balance fields are mutated only inside Store.Mutate.
type Wallet struct {
	ID       string
	UserID   string
	Currency string

	BalanceTopup    int64
	BalanceIncluded int64

	// MaxCharge caps a single hold; zero means no cap.
	MaxCharge int64
	// DailyCap limits spend per 24h window; zero means no cap.
	DailyCap     int64
	DailySpent   int64
	DailyResetAt time.Time

	AutoTopupEnabled      bool
	AutoTopupThreshold    int64
	AutoTopupAmount       int64
	AutoTopupFailCount    int
	AutoTopupLastFailedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the spendable balance across both pools.
func (w Wallet) Available() int64 {
	return w.BalanceIncluded + w.BalanceTopup
}

// Breakdown records how an entry's amount was split across the two balance
// pools. For holds it is the draw, for releases the restore, for overage
// adjustments the (negative) debit per pool.
type Breakdown struct {
	Included int64 `json:"included"`
	Topup    int64 `json:"topup"`
}

// LedgerEntry is an immutable, append-only record of one balance-affecting
// event. At most one entry of each type exists per (ReferenceType,
// ReferenceID).
type LedgerEntry struct {
	ID       string
	WalletID string
	UserID   string
	Currency string

	Type   EntryType
	Amount int64

	ChargedInput  int64
	ChargedOutput int64

	BalanceIncludedAfter int64
	BalanceTopupAfter    int64

	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string

	Breakdown Breakdown
	Reason    string
	ActorID   string
	Metadata  map[string]string

	// HoldExpiresAt is advisory; sweeping expired holds is left to an
	// external reaper calling ReleaseHold.
	HoldExpiresAt time.Time
	// ExpiresAt carries the topup credit TTL when configured.
	ExpiresAt time.Time

	CreatedAt time.Time
}
