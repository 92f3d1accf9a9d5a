package wallet

import "context"

// SeedBalances sets both pools directly, bypassing the ledger. Test and
// local-dev helper only.
func SeedBalances(ctx context.Context, svc *Service, walletID string, included, topup int64) error {
	return svc.store.Mutate(ctx, walletID, func(tx Tx) error {
		w := tx.Wallet()
		w.BalanceIncluded = included
		w.BalanceTopup = topup
		return nil
	})
}
