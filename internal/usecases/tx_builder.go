package usecases

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/volatiletech/null/v8"

	"chain-relay.backend/internal/domain/entities"
)

// BuildUnsigned constructs the chain transaction for an intent under the
// regime the fees dictate.
func BuildUnsigned(tx *entities.Transaction, nonce uint64, gasLimit uint64, fees GasFees) (*types.Transaction, error) {
	value, err := parseBigInt(tx.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", tx.Value, err)
	}
	to := common.HexToAddress(tx.ToAddress)
	data := common.FromHex(tx.Data)

	if fees.IsLegacy() {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: fees.GasPrice,
			Data:     data,
		}), nil
	}

	return types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gasLimit,
		GasFeeCap: fees.MaxFeePerGas,
		GasTipCap: fees.MaxPriorityFeePerGas,
		Data:      data,
	}), nil
}

// BuildNullTx constructs the zero-value, zero-data, self-to-self transaction
// used to invalidate a pending nonce.
func BuildNullTx(wallet string, nonce uint64, fees GasFees) *types.Transaction {
	self := common.HexToAddress(wallet)
	if fees.IsLegacy() {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &self,
			Value:    big.NewInt(0),
			Gas:      21000,
			GasPrice: fees.GasPrice,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		To:        &self,
		Value:     big.NewInt(0),
		Gas:       21000,
		GasFeeCap: fees.MaxFeePerGas,
		GasTipCap: fees.MaxPriorityFeePerGas,
	})
}

// CallMsg builds the simulation/estimation message for an intent
func CallMsg(tx *entities.Transaction) ethereum.CallMsg {
	from := common.HexToAddress(tx.FromAddress)
	to := common.HexToAddress(tx.ToAddress)
	value, err := parseBigInt(tx.Value)
	if err != nil {
		value = big.NewInt(0)
	}
	return ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  common.FromHex(tx.Data),
	}
}

// StoredFees reconstructs the last attempt's fees from the persisted strings
func StoredFees(tx *entities.Transaction) (GasFees, error) {
	if tx.IsLegacyGas() {
		price, err := parseBigInt(tx.GasPrice.String)
		if err != nil {
			return GasFees{}, err
		}
		return GasFees{GasPrice: price}, nil
	}

	maxFee, err := parseBigInt(tx.MaxFeePerGas.String)
	if err != nil {
		return GasFees{}, err
	}
	tip, err := parseBigInt(tx.MaxPriorityFeePerGas.String)
	if err != nil {
		return GasFees{}, err
	}
	return GasFees{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

// FeeStrings renders fees into the nullable columns of a SentUpdate
func FeeStrings(fees GasFees) (gasPrice, maxFee, maxPriority null.String) {
	if fees.GasPrice != nil {
		gasPrice = null.StringFrom(fees.GasPrice.String())
	}
	if fees.MaxFeePerGas != nil {
		maxFee = null.StringFrom(fees.MaxFeePerGas.String())
	}
	if fees.MaxPriorityFeePerGas != nil {
		maxPriority = null.StringFrom(fees.MaxPriorityFeePerGas.String())
	}
	return
}

func parseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer")
	}
	return v, nil
}
