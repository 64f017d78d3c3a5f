// Package orderexec simulates single-asset order execution (SAOE) over
// synthetic minute-level market data.
//
// An Order asks for Amount shares to be bought or sold within the tick window
// [Start, End). Each Simulator.Step receives the amount the policy wants to
// trade over the next TicksPerStep ticks and spreads it evenly across them.
package orderexec

import (
	"fmt"
	"math"
	"math/rand"
)

// TicksPerDay is the number of one-minute ticks in a synthetic trading day.
const TicksPerDay = 390

// Direction is the side of an order.
type Direction int

const (
	Sell Direction = iota
	Buy
)

func (d Direction) String() string {
	switch d {
	case Sell:
		return "sell"
	case Buy:
		return "buy"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Order is the seed of one SAOE episode.
type Order struct {
	ID        string
	StockID   string
	Amount    float64
	Direction Direction
	Start     int // first tick, inclusive
	End       int // last tick, exclusive
	DataSeed  int64
}

// Intraday is one day of per-tick deal prices and market volumes.
type Intraday struct {
	Price  []float64
	Volume []float64
}

// Len returns the number of ticks.
func (d Intraday) Len() int {
	return len(d.Price)
}

// GenerateIntraday synthesizes ticks of market data: a geometric random walk
// around a base price near 100 and exponentially distributed volumes.
func GenerateIntraday(rng *rand.Rand, ticks int) Intraday {
	d := Intraday{Price: make([]float64, ticks), Volume: make([]float64, ticks)}
	price := 100 * (0.9 + 0.2*rng.Float64())
	for i := 0; i < ticks; i++ {
		price *= math.Exp(0.001 * rng.NormFloat64())
		d.Price[i] = price
		d.Volume[i] = 1000 + 4000*rng.ExpFloat64()
	}
	return d
}

// GenerateOrders draws n orders over a day of TicksPerDay ticks. Every order
// window covers at least minTicks ticks.
func GenerateOrders(rng *rand.Rand, n, minTicks int) []Order {
	if minTicks < 1 {
		minTicks = 1
	}
	if minTicks > TicksPerDay {
		minTicks = TicksPerDay
	}
	orders := make([]Order, n)
	for i := range orders {
		start := rng.Intn(TicksPerDay - minTicks + 1)
		end := start + minTicks + rng.Intn(TicksPerDay-start-minTicks+1)
		orders[i] = Order{
			ID:        fmt.Sprintf("order_%d", i),
			StockID:   fmt.Sprintf("SYN%02d", rng.Intn(20)),
			Amount:    math.Round(10 + 990*rng.Float64()),
			Direction: Direction(rng.Intn(2)),
			Start:     start,
			End:       end,
			DataSeed:  rng.Int63(),
		}
	}
	return orders
}

// PriceAdvantage is the execution price's advantage over baseline in basis
// points, signed so that positive is good for the order's side. It is zero
// when either price is unusable.
func PriceAdvantage(execPrice, baseline float64, dir Direction) float64 {
	if baseline == 0 || math.IsNaN(execPrice) || math.IsNaN(baseline) {
		return 0
	}
	if dir == Buy {
		return (1 - execPrice/baseline) * 10000
	}
	return (execPrice/baseline - 1) * 10000
}
