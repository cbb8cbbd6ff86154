// Package lmsr implements Hanson's Logarithmic Market Scoring Rule for
// two-outcome markets.
//
// The market maker's cost function is
//
//	C(q) = b * ln(exp(q0/b) + exp(q1/b))
//
// and the instantaneous price of outcome i is its softmax weight. Every
// function here is pure: no state, no I/O. All exponentials are taken after
// subtracting max(q) so large share counts do not overflow.
package lmsr

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// Solver parameters.
const (
	// Tolerance is the absolute tolerance, in tokens, of SharesFor.
	Tolerance = 1e-6
	// MaxBisections bounds the bisection phase of SharesFor.
	MaxBisections = 500
	// MaxDoublings bounds the bracketing phase of SharesFor.
	MaxDoublings = 256
)

// Prices returns the price of both outcomes. Each is computed from the same
// stabilised softmax so the pair sums to 1 within floating point error.
func Prices(q [2]float64, b float64) [2]float64 {
	m := math.Max(q[0], q[1])
	e0 := math.Exp((q[0] - m) / b)
	e1 := math.Exp((q[1] - m) / b)
	sum := e0 + e1
	return [2]float64{e0 / sum, e1 / sum}
}

// Price returns the price of outcome i, a value in (0, 1).
func Price(q [2]float64, b float64, i int) float64 {
	return Prices(q, b)[i]
}

// Cost evaluates C(q) with the log-sum-exp trick.
func Cost(q [2]float64, b float64) float64 {
	m := math.Max(q[0], q[1])
	return m + b*math.Log(math.Exp((q[0]-m)/b)+math.Exp((q[1]-m)/b))
}

// CostToBuy returns the tokens needed to buy shares of outcome i at q. It is
// strictly increasing in shares.
func CostToBuy(q [2]float64, b float64, i int, shares float64) float64 {
	next := q
	next[i] += shares
	return Cost(next, b) - Cost(q, b)
}

// SharesFor returns the number of shares of outcome i whose cost equals
// amount, within Tolerance tokens.
//
// The root is bracketed by doubling an upper bound starting at 1 until the
// cost exceeds amount, then located by bisection. Failure to bracket or to
// converge returns domain.ErrNumericalNonConvergence, as does an invalid b.
func SharesFor(q [2]float64, b float64, i int, amount float64) (float64, error) {
	if i != 0 && i != 1 {
		return 0, fmt.Errorf("lmsr: outcome index %d: %w", i, domain.ErrInvalidOutcome)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, fmt.Errorf("lmsr: amount %v: %w", amount, domain.ErrInvalidAmount)
	}
	if !(b > 0) || math.IsInf(b, 0) {
		return 0, fmt.Errorf("lmsr: liquidity %v: %w", b, domain.ErrNumericalNonConvergence)
	}

	lo, hi := 0.0, 1.0
	bracketed := false
	for n := 0; n < MaxDoublings; n++ {
		c := CostToBuy(q, b, i, hi)
		if math.IsNaN(c) || math.IsInf(hi, 0) {
			break
		}
		if c > amount {
			bracketed = true
			break
		}
		lo = hi
		hi *= 2
	}
	if !bracketed {
		return 0, fmt.Errorf("lmsr: bracket %v tokens: %w", amount, domain.ErrNumericalNonConvergence)
	}

	for n := 0; n < MaxBisections; n++ {
		mid := lo + (hi-lo)/2
		c := CostToBuy(q, b, i, mid)
		if math.Abs(c-amount) <= Tolerance {
			return mid, nil
		}
		if mid == lo || mid == hi {
			// interval exhausted at float64 resolution
			break
		}
		if c < amount {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0, fmt.Errorf("lmsr: solve %v tokens: %w", amount, domain.ErrNumericalNonConvergence)
}

// MaxLoss is the market maker's worst-case subsidy, b * ln 2.
func MaxLoss(b float64) float64 {
	return b * math.Ln2
}

// Quote previews a purchase without touching any state.
type Quote struct {
	Shares          float64
	Amount          float64
	AveragePrice    float64
	PriceBefore     float64
	PriceAfter      float64
	PotentialPayout float64
}

// QuoteBuy computes the shares a purchase of amount tokens of outcome i would
// receive and the resulting price.
func QuoteBuy(q [2]float64, b float64, i int, amount float64) (Quote, error) {
	shares, err := SharesFor(q, b, i, amount)
	if err != nil {
		return Quote{}, err
	}
	next := q
	next[i] += shares
	return Quote{
		Shares:          shares,
		Amount:          amount,
		AveragePrice:    amount / shares,
		PriceBefore:     Price(q, b, i),
		PriceAfter:      Price(next, b, i),
		PotentialPayout: shares * domain.PayoutPerShare,
	}, nil
}
