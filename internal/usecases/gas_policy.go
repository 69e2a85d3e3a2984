package usecases

import (
	"context"
	"math/big"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/domain/services"
)

// GasFees holds the gas parameters of one attempt. Legacy and EIP-1559 fields
// are mutually exclusive: a transaction created under one regime retries under
// the same regime.
type GasFees struct {
	GasPrice             *big.Int // legacy
	MaxFeePerGas         *big.Int // EIP-1559
	MaxPriorityFeePerGas *big.Int // EIP-1559
}

// IsLegacy reports whether the fees belong to the single-gas-price regime
func (f GasFees) IsLegacy() bool {
	return f.GasPrice != nil
}

// GasPolicy computes initial and escalated gas parameters bounded by the
// configured ceilings.
type GasPolicy struct{}

// NewGasPolicy creates a new gas policy
func NewGasPolicy() *GasPolicy {
	return &GasPolicy{}
}

// Initial asks the node for suggested gas parameters under the chain's regime
func (p *GasPolicy) Initial(ctx context.Context, client services.ExecutionClient, legacy bool) (GasFees, error) {
	if legacy {
		price, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return GasFees{}, err
		}
		return GasFees{GasPrice: price}, nil
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return GasFees{}, err
	}
	base, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return GasFees{}, err
	}
	// maxFee = 2*base + tip leaves headroom for base fee growth while the
	// transaction is pending.
	maxFee := new(big.Int).Add(new(big.Int).Mul(base, big.NewInt(2)), tip)
	return GasFees{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

// Escalate returns the next attempt's fees: per field, at least double and at
// least 10% above the immediately preceding attempt, whichever is larger. The
// two floors are independent so a future change to either multiplier keeps
// the other guarantee intact.
func (p *GasPolicy) Escalate(prev GasFees) GasFees {
	next := GasFees{}
	if prev.GasPrice != nil {
		next.GasPrice = escalate(prev.GasPrice)
	}
	if prev.MaxFeePerGas != nil {
		next.MaxFeePerGas = escalate(prev.MaxFeePerGas)
	}
	if prev.MaxPriorityFeePerGas != nil {
		next.MaxPriorityFeePerGas = escalate(prev.MaxPriorityFeePerGas)
	}
	return next
}

// WithinCeiling reports whether every candidate field is at or below its
// configured ceiling. A false result defers the operation; it is never an
// error.
func (p *GasPolicy) WithinCeiling(f GasFees, snap *config.Snapshot) bool {
	if f.GasPrice != nil && f.GasPrice.Cmp(snap.MaxFeeCeilingWei) > 0 {
		return false
	}
	if f.MaxFeePerGas != nil && f.MaxFeePerGas.Cmp(snap.MaxFeeCeilingWei) > 0 {
		return false
	}
	if f.MaxPriorityFeePerGas != nil && f.MaxPriorityFeePerGas.Cmp(snap.MaxPriorityFeeCeilingWei) > 0 {
		return false
	}
	return true
}

func escalate(v *big.Int) *big.Int {
	double := new(big.Int).Mul(v, big.NewInt(2))
	tenPct := new(big.Int).Div(new(big.Int).Mul(v, big.NewInt(110)), big.NewInt(100))
	if double.Cmp(tenPct) >= 0 {
		return double
	}
	return tenPct
}
