package lmsr

import (
	"errors"
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

func TestPricesEvenMarket(t *testing.T) {
	p := Prices([2]float64{0, 0}, 100)
	if p[0] != 0.5 || p[1] != 0.5 {
		t.Fatalf("expected 0.5/0.5, got %v", p)
	}
}

func TestPricesLargeSharesDoNotOverflow(t *testing.T) {
	p := Prices([2]float64{1e6, 0}, 10)
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
		t.Fatalf("NaN price: %v", p)
	}
	if p[0] < 0.999999 {
		t.Fatalf("expected dominant outcome near 1, got %v", p[0])
	}
	c := Cost([2]float64{1e6, 1e6 - 5}, 10)
	if math.IsInf(c, 0) || math.IsNaN(c) {
		t.Fatalf("cost overflowed: %v", c)
	}
}

func TestCostEvenMarket(t *testing.T) {
	got := Cost([2]float64{0, 0}, 100)
	want := 100 * math.Ln2
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("Cost = %v, want %v", got, want)
	}
}

func TestSharesForScenario(t *testing.T) {
	q := [2]float64{0, 0}
	shares, err := SharesFor(q, 100, 0, 500)
	if err != nil {
		t.Fatalf("SharesFor: %v", err)
	}
	if c := CostToBuy(q, 100, 0, shares); math.Abs(c-500) > Tolerance {
		t.Fatalf("cost of %v shares = %v, want 500", shares, c)
	}
	q[0] += shares
	p := Prices(q, 100)
	if p[0] <= 0.5 || p[1] >= 0.5 {
		t.Fatalf("prices did not move: %v", p)
	}
	if math.Abs(p[0]+p[1]-1) > 1e-9 {
		t.Fatalf("prices do not sum to 1: %v", p)
	}
}

func TestSharesForSplitMatchesSingle(t *testing.T) {
	const b = 100
	single, err := SharesFor([2]float64{0, 0}, b, 0, 200)
	if err != nil {
		t.Fatal(err)
	}

	q := [2]float64{0, 0}
	first, err := SharesFor(q, b, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	q[0] += first
	second, err := SharesFor(q, b, 0, 100)
	if err != nil {
		t.Fatal(err)
	}

	// Cost is path independent, so the split buys the same quantity.
	if math.Abs(single-(first+second)) > 1e-4 {
		t.Fatalf("single=%v split=%v", single, first+second)
	}
	if second >= first {
		t.Fatalf("second tranche should buy fewer shares: first=%v second=%v", first, second)
	}
}

func TestSharesForRejectsBadInput(t *testing.T) {
	q := [2]float64{0, 0}
	tests := []struct {
		name   string
		b      float64
		i      int
		amount float64
		want   error
	}{
		{"zero amount", 100, 0, 0, domain.ErrInvalidAmount},
		{"negative amount", 100, 0, -5, domain.ErrInvalidAmount},
		{"nan amount", 100, 0, math.NaN(), domain.ErrInvalidAmount},
		{"inf amount", 100, 0, math.Inf(1), domain.ErrInvalidAmount},
		{"bad outcome", 100, 2, 10, domain.ErrInvalidOutcome},
		{"zero liquidity", 0, 0, 10, domain.ErrNumericalNonConvergence},
		{"negative liquidity", -1, 1, 10, domain.ErrNumericalNonConvergence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SharesFor(q, tt.b, tt.i, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSharesForUnreachableAmount(t *testing.T) {
	// MaxDoublings caps the bracket near 2^256 shares, far short of 1e300.
	_, err := SharesFor([2]float64{0, 0}, 100, 1, 1e300)
	if !errors.Is(err, domain.ErrNumericalNonConvergence) {
		t.Fatalf("got %v, want ErrNumericalNonConvergence", err)
	}
}

func TestQuoteBuy(t *testing.T) {
	qt, err := QuoteBuy([2]float64{0, 0}, 100, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if qt.PriceBefore != 0.5 {
		t.Fatalf("PriceBefore = %v", qt.PriceBefore)
	}
	if qt.PriceAfter <= qt.PriceBefore {
		t.Fatalf("price did not rise: %+v", qt)
	}
	if qt.AveragePrice <= qt.PriceBefore || qt.AveragePrice >= qt.PriceAfter {
		t.Fatalf("average price %v outside (%v, %v)", qt.AveragePrice, qt.PriceBefore, qt.PriceAfter)
	}
	if math.Abs(qt.PotentialPayout-qt.Shares*domain.PayoutPerShare) > 1e-9 {
		t.Fatalf("PotentialPayout = %v", qt.PotentialPayout)
	}
}

func TestMaxLoss(t *testing.T) {
	if got := MaxLoss(100); math.Abs(got-69.31471805599453) > 1e-9 {
		t.Fatalf("MaxLoss = %v", got)
	}
}

func TestPropertyPricesSumToOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q0 := rapid.Float64Range(0, 1e6).Draw(t, "q0")
		q1 := rapid.Float64Range(0, 1e6).Draw(t, "q1")
		b := rapid.Float64Range(1e-2, 1e5).Draw(t, "b")

		p := Prices([2]float64{q0, q1}, b)
		if math.Abs(p[0]+p[1]-1) > 1e-9 {
			t.Fatalf("prices %v sum to %v", p, p[0]+p[1])
		}
		if p[0] < 0 || p[0] > 1 || p[1] < 0 || p[1] > 1 {
			t.Fatalf("price out of range: %v", p)
		}
	})
}

func TestPropertyCostToBuyIncreasing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Float64Range(1, 1e4).Draw(t, "b")
		// Keep share counts within a few b of each other so cost
		// differences stay above float64 resolution.
		q := [2]float64{
			rapid.Float64Range(0, 5).Draw(t, "q0") * b,
			rapid.Float64Range(0, 5).Draw(t, "q1") * b,
		}
		i := rapid.IntRange(0, 1).Draw(t, "i")
		s1 := rapid.Float64Range(0.01, 10).Draw(t, "s1") * b
		ds := rapid.Float64Range(0.01, 10).Draw(t, "ds") * b

		c1 := CostToBuy(q, b, i, s1)
		c2 := CostToBuy(q, b, i, s1+ds)
		if !(c1 > 0 && c2 > c1) {
			t.Fatalf("CostToBuy not increasing: c(%v)=%v c(%v)=%v", s1, c1, s1+ds, c2)
		}
	})
}

func TestPropertySharesForInvertsCost(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := [2]float64{
			rapid.Float64Range(0, 5e3).Draw(t, "q0"),
			rapid.Float64Range(0, 5e3).Draw(t, "q1"),
		}
		b := rapid.Float64Range(10, 1e3).Draw(t, "b")
		i := rapid.IntRange(0, 1).Draw(t, "i")
		amount := rapid.Float64Range(1e-2, 1e5).Draw(t, "amount")

		shares, err := SharesFor(q, b, i, amount)
		if err != nil {
			t.Fatalf("SharesFor: %v", err)
		}
		if shares <= 0 {
			t.Fatalf("non-positive shares %v", shares)
		}
		if c := CostToBuy(q, b, i, shares); math.Abs(c-amount) > Tolerance {
			t.Fatalf("cost %v differs from amount %v", c, amount)
		}
	})
}
