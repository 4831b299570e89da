package game

import (
	"math"
	"time"

	"ownrealm/pkg/types"
)

// Regenerate projects amount forward by elapsed at ratePerHour and clamps the
// result to [0, capacity]. Negative elapsed is treated as zero.
func Regenerate(amount float64, capacity int, ratePerHour float64, elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	v := amount + ratePerHour/3600*elapsed.Seconds()
	return math.Max(0, math.Min(float64(capacity), v))
}

// Stock is the fractional resource amount kept by the store between spends.
type Stock struct {
	Wood  float64
	Stone float64
	Ore   float64
}

func StockOf(r types.Resources) Stock {
	return Stock{Wood: float64(r.Wood), Stone: float64(r.Stone), Ore: float64(r.Ore)}
}

// Project returns the stock at t0+elapsed.
func (s Stock) Project(capacity int, rates types.Rates, elapsed time.Duration) Stock {
	return Stock{
		Wood:  Regenerate(s.Wood, capacity, rates.Wood, elapsed),
		Stone: Regenerate(s.Stone, capacity, rates.Stone, elapsed),
		Ore:   Regenerate(s.Ore, capacity, rates.Ore, elapsed),
	}
}

// Whole drops the fractional part of every amount.
func (s Stock) Whole() types.Resources {
	return types.Resources{
		Wood:  int(math.Floor(s.Wood)),
		Stone: int(math.Floor(s.Stone)),
		Ore:   int(math.Floor(s.Ore)),
	}
}

// Sub debits r. Callers check coverage first.
func (s Stock) Sub(r types.Resources) Stock {
	return Stock{Wood: s.Wood - float64(r.Wood), Stone: s.Stone - float64(r.Stone), Ore: s.Ore - float64(r.Ore)}
}

// AddClamped credits r without exceeding capacity.
func (s Stock) AddClamped(r types.Resources, capacity int) Stock {
	c := float64(capacity)
	return Stock{
		Wood:  math.Min(c, s.Wood+float64(r.Wood)),
		Stone: math.Min(c, s.Stone+float64(r.Stone)),
		Ore:   math.Min(c, s.Ore+float64(r.Ore)),
	}
}
