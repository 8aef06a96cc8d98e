package custody

import (
	"errors"
	"fmt"

	"ntt/internal/types"
)

// Forward applies the source-side custody action for a transfer:
// Locking escrows the amount in the custody account, Burning destroys
// it. The mode is fixed at manager construction; the switch is
// exhaustive.
func Forward(mode types.Mode, ledger Ledger, custody, sender types.UniversalAddress, amount uint64) error {
	switch mode {
	case types.Locking:
		if err := ledger.Transfer(sender, custody, amount); err != nil {
			return fmt.Errorf("lock %d:\n%w", amount, err)
		}
		return nil
	case types.Burning:
		if err := ledger.Burn(sender, amount); err != nil {
			return fmt.Errorf("burn %d:\n%w", amount, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown custody mode: %d", mode)
	}
}

// Reverse applies the destination-side custody action for a redeem:
// Locking releases the amount from the custody account, Burning mints
// it. A Locking shortfall means forward accounting was broken
// somewhere; it cannot be recovered here.
func Reverse(mode types.Mode, ledger Ledger, custody, recipient types.UniversalAddress, amount uint64) error {
	switch mode {
	case types.Locking:
		if err := ledger.Transfer(custody, recipient, amount); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return fmt.Errorf("custody shortfall releasing %d:\n%w", amount, err)
			}
			return fmt.Errorf("unlock %d:\n%w", amount, err)
		}
		return nil
	case types.Burning:
		if err := ledger.Mint(recipient, amount); err != nil {
			return fmt.Errorf("mint %d:\n%w", amount, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown custody mode: %d", mode)
	}
}

// CanReverse reports whether a Reverse of amount would succeed right
// now, without applying it. Release paths check this before marking a
// transfer released so that the mark is only written for a credit that
// can actually happen.
func CanReverse(mode types.Mode, ledger Ledger, custody types.UniversalAddress, amount uint64) error {
	switch mode {
	case types.Locking:
		balance, err := ledger.Balance(custody)
		if err != nil {
			return fmt.Errorf("read custody balance:\n%w", err)
		}
		if balance < amount {
			return fmt.Errorf("custody holds %d, need %d:\n%w", balance, amount, ErrInsufficientFunds)
		}
		return nil
	case types.Burning:
		supply, err := ledger.TotalSupply()
		if err != nil {
			return fmt.Errorf("read total supply:\n%w", err)
		}
		if supply+amount < supply {
			return fmt.Errorf("mint %d (supply %d):\n%w", amount, supply, ErrSupplyOverflow)
		}
		return nil
	default:
		return fmt.Errorf("unknown custody mode: %d", mode)
	}
}
