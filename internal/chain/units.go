package chain

import "math/big"

// GweiToWei converts a gwei amount to wei.
func GweiToWei(gwei float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	wei, _ := f.Int(nil)
	return wei
}

// ToBaseUnits converts a token amount into its integer base-unit
// representation for the given ERC-20 decimals.
func ToBaseUnits(amount float64, decimals int) *big.Int {
	scale := new(big.Float).SetInt(pow10(decimals))
	f := new(big.Float).Mul(big.NewFloat(amount), scale)
	units, _ := f.Int(nil)
	return units
}

// FromBaseUnits converts integer base units back into a token amount.
func FromBaseUnits(units *big.Int, decimals int) float64 {
	if units == nil {
		return 0
	}
	scale := new(big.Float).SetInt(pow10(decimals))
	f := new(big.Float).Quo(new(big.Float).SetInt(units), scale)
	out, _ := f.Float64()
	return out
}

// WeiToQuote converts a wei amount into quote-currency units at the given
// rate (quote units per whole native token).
func WeiToQuote(wei *big.Int, rate float64) float64 {
	if wei == nil {
		return 0
	}
	native := FromBaseUnits(wei, 18)
	return native * rate
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
