package orderexec

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/inference-sim/finite-rollout/sim/env"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const eps = 1e-12

var (
	// ErrInvalidOrder is returned for orders the data cannot serve.
	ErrInvalidOrder = errors.New("orderexec: invalid order")
	// ErrInvalidAmount is returned when a step would trade a negative amount
	// or more than the remaining position.
	ErrInvalidAmount = errors.New("orderexec: invalid execution amount")
	// ErrOrderDone is returned by Step once the order is complete.
	ErrOrderDone = errors.New("orderexec: order already done")
)

// Config holds simulator knobs shared by every order.
type Config struct {
	TicksPerStep int     // ticks covered by one Step; defaults to 30
	VolThreshold float64 // max share of market volume per tick; 0 disables the cap
}

// Record is the execution summary of one tick, one step or a whole order.
type Record struct {
	Tick         int
	MarketVolume float64
	MarketPrice  float64
	Amount       float64 // amount the policy asked for
	DealAmount   float64 // amount actually traded
	TradePrice   float64 // volume-weighted deal price, NaN if nothing traded
	TradeValue   float64
	Position     float64 // remaining position afterwards
	FFR          float64 // fraction of the order filled
	PA           float64 // price advantage over the order's TWAP, in bp
}

// State is a read-only view of a simulator. Slices are shared with it.
type State struct {
	Order        Order
	CurTick      int
	Position     float64
	TicksPerStep int
	Data         Intraday
	TWAP         float64
	HistoryExec  []Record
	HistorySteps []Record
	Final        *Record // set once the order is done
}

// Simulator executes one order.
type Simulator struct {
	cfg      Config
	order    Order
	data     Intraday
	twap     float64
	cur      int
	position float64
	exec     []Record
	steps    []Record
	final    *Record
}

// NewSimulator validates order against data and positions the clock at the
// order's start tick.
func NewSimulator(order Order, data Intraday, cfg Config) (*Simulator, error) {
	if cfg.TicksPerStep <= 0 {
		cfg.TicksPerStep = 30
	}
	switch {
	case !(order.Amount > 0):
		return nil, fmt.Errorf("order %s amount %v: %w", order.ID, order.Amount, ErrInvalidOrder)
	case order.Start < 0 || order.End <= order.Start:
		return nil, fmt.Errorf("order %s window [%d, %d): %w", order.ID, order.Start, order.End, ErrInvalidOrder)
	case order.End > data.Len() || len(data.Volume) != data.Len():
		return nil, fmt.Errorf("order %s ends at tick %d, data has %d: %w", order.ID, order.End, data.Len(), ErrInvalidOrder)
	case order.Direction != Buy && order.Direction != Sell:
		return nil, fmt.Errorf("order %s direction %v: %w", order.ID, order.Direction, ErrInvalidOrder)
	}
	return &Simulator{
		cfg:      cfg,
		order:    order,
		data:     data,
		twap:     stat.Mean(data.Price[order.Start:order.End], nil),
		cur:      order.Start,
		position: order.Amount,
	}, nil
}

// Step trades amount over the next TicksPerStep ticks (fewer at the end of the
// order window). The amount is split evenly across ticks and capped by the
// volume threshold. Whatever is left is forced through on the last tick of
// the order, subject to the same cap.
func (s *Simulator) Step(amount float64) error {
	if s.Done() {
		return ErrOrderDone
	}
	if math.IsNaN(amount) || amount < -eps {
		return fmt.Errorf("amount %v: %w", amount, ErrInvalidAmount)
	}
	next := s.nextTick()
	prices := s.data.Price[s.cur:next]
	vols := s.data.Volume[s.cur:next]
	exec := s.split(amount, vols, next)

	total := floats.Sum(exec)
	if s.position-total < -eps || floats.Min(exec) < -eps {
		return fmt.Errorf("executing %v of remaining %v: %w", total, s.position, ErrInvalidAmount)
	}

	pos := s.position
	for i, e := range exec {
		pos -= e
		s.exec = append(s.exec, Record{
			Tick:         s.cur + i,
			MarketVolume: vols[i],
			MarketPrice:  prices[i],
			Amount:       e,
			DealAmount:   e,
			TradePrice:   prices[i],
			TradeValue:   prices[i] * e,
			Position:     pos,
			FFR:          e / s.order.Amount,
			PA:           PriceAdvantage(prices[i], s.twap, s.order.Direction),
		})
	}
	s.position -= total
	s.steps = append(s.steps, s.summarize(s.cur, vols, prices, amount, exec))
	s.cur = next

	if s.Done() {
		var asked float64
		for _, st := range s.steps {
			asked += st.Amount
		}
		n := len(s.exec)
		dayVols, dayPrices, dealt := make([]float64, n), make([]float64, n), make([]float64, n)
		for i, r := range s.exec {
			dayVols[i], dayPrices[i], dealt[i] = r.MarketVolume, r.MarketPrice, r.DealAmount
		}
		final := s.summarize(s.order.Start, dayVols, dayPrices, asked, dealt)
		s.final = &final
	}
	return nil
}

func (s *Simulator) split(amount float64, vols []float64, next int) []float64 {
	n := len(vols)
	exec := make([]float64, n)
	for i := range exec {
		exec[i] = amount / float64(n)
	}
	s.capVolume(exec, vols)
	if next == s.order.End {
		exec[n-1] += s.position - floats.Sum(exec)
		s.capVolume(exec, vols)
	}
	return exec
}

func (s *Simulator) capVolume(exec, vols []float64) {
	if s.cfg.VolThreshold <= 0 {
		return
	}
	for i := range exec {
		exec[i] = math.Min(exec[i], s.cfg.VolThreshold*vols[i])
	}
}

func (s *Simulator) summarize(tick int, vols, prices []float64, asked float64, exec []float64) Record {
	dealt := floats.Sum(exec)
	tradePrice := math.NaN()
	if dealt > eps {
		tradePrice = stat.Mean(prices, exec)
	}
	return Record{
		Tick:         tick,
		MarketVolume: floats.Sum(vols),
		MarketPrice:  stat.Mean(prices, nil),
		Amount:       asked,
		DealAmount:   dealt,
		TradePrice:   tradePrice,
		TradeValue:   floats.Dot(prices, exec),
		Position:     s.position,
		FFR:          dealt / s.order.Amount,
		PA:           PriceAdvantage(tradePrice, s.twap, s.order.Direction),
	}
}

func (s *Simulator) nextTick() int {
	return min(s.order.End, s.cur+s.cfg.TicksPerStep)
}

// Done reports whether the order is fully executed or its window has passed.
func (s *Simulator) Done() bool {
	return s.position < eps || s.cur >= s.order.End
}

// State returns a snapshot of the simulator.
func (s *Simulator) State() State {
	return State{
		Order:        s.order,
		CurTick:      s.cur,
		Position:     s.position,
		TicksPerStep: s.cfg.TicksPerStep,
		Data:         s.data,
		TWAP:         s.twap,
		HistoryExec:  s.exec,
		HistorySteps: s.steps,
		Final:        s.final,
	}
}

// Metrics returns the whole-order summary once the order is done, nil before.
func (s *Simulator) Metrics() map[string]float64 {
	if s.final == nil {
		return nil
	}
	f := s.final
	m := map[string]float64{
		"ffr":           f.FFR,
		"pa":            f.PA,
		"market_volume": f.MarketVolume,
		"market_price":  f.MarketPrice,
		"amount":        f.Amount,
		"deal_amount":   f.DealAmount,
		"trade_value":   f.TradeValue,
		"position":      f.Position,
	}
	if !math.IsNaN(f.TradePrice) {
		m["trade_price"] = f.TradePrice
	}
	return m
}

// Factory returns a simulator factory for env.Config that synthesizes each
// order's market data from its DataSeed.
func Factory(cfg Config) func(Order) (env.Simulator[State, float64], error) {
	return func(o Order) (env.Simulator[State, float64], error) {
		data := GenerateIntraday(rand.New(rand.NewSource(o.DataSeed)), TicksPerDay)
		s, err := NewSimulator(o, data, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
