// Package accounting reconstructs realized trades from an ENTRY/EXIT event stream.
package accounting

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/eventlog"
)

// DuplicateEntryPolicy decides what happens to an ENTRY for a pair that is already open.
type DuplicateEntryPolicy string

const (
	// DuplicateEntryForceClose closes the open position at the new entry's prices, then opens the new one.
	DuplicateEntryForceClose DuplicateEntryPolicy = "force_close"
	// DuplicateEntryIgnore keeps the open position and drops the new entry.
	DuplicateEntryIgnore DuplicateEntryPolicy = "ignore"
)

// maxLineBytes bounds a single log line.
const maxLineBytes = 1 << 20

var bpsDivisor = decimal.NewFromInt(10000)

// Options configures an Accountant.
type Options struct {
	Start time.Time // window start (zero = unbounded)
	End   time.Time // window end (zero = unbounded)

	FeeBps      float64 // negative values are treated as 0
	SlippageBps float64 // negative values are treated as 0

	DuplicateEntry DuplicateEntryPolicy // default DuplicateEntryForceClose
	Logger         *zap.Logger
}

type position struct {
	entry          domain.TradeEvent
	boundaryMarked bool
	seq            int
}

type observation struct {
	priceA decimal.Decimal
	priceB decimal.Decimal
	at     time.Time
}

// Accountant is a per-pair position state machine over one window.
// It is not safe for concurrent use; each run owns its own Accountant.
type Accountant struct {
	opts      Options
	costRatio decimal.Decimal
	log       *zap.Logger

	open   map[string]*position
	last   map[string]observation
	nextID int

	windowStarted bool
	endReached    bool
	finished      bool

	total  decimal.Decimal
	trades []domain.ClosedTrade
}

// New creates an Accountant for the given window and cost model.
func New(opts Options) *Accountant {
	if opts.DuplicateEntry == "" {
		opts.DuplicateEntry = DuplicateEntryForceClose
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	costBps := max(0, opts.FeeBps) + max(0, opts.SlippageBps)
	ratio := decimal.Zero
	if costBps > 0 {
		ratio = decimal.NewFromFloat(costBps).Div(bpsDivisor)
	}

	return &Accountant{
		opts:          opts,
		costRatio:     ratio,
		log:           logger,
		open:          make(map[string]*position),
		last:          make(map[string]observation),
		windowStarted: opts.Start.IsZero(),
		total:         decimal.Zero,
	}
}

// Observe feeds one event. Returns false once the window end has been passed;
// later events are ignored.
func (a *Accountant) Observe(ev domain.TradeEvent) bool {
	if a.endReached || a.finished {
		return false
	}
	ts := ev.Timestamp
	pair := ev.Pair

	// Before the window: track state and prices only.
	if !a.opts.Start.IsZero() && ts.Before(a.opts.Start) {
		a.last[pair] = observation{priceA: ev.PriceA, priceB: ev.PriceB, at: ts}
		switch ev.Kind {
		case domain.EventEntry:
			a.openPosition(ev)
		case domain.EventExit:
			delete(a.open, pair)
		}
		return true
	}

	if !a.windowStarted {
		a.windowStarted = true
		a.markBoundary()
	}

	if !a.opts.End.IsZero() && ts.After(a.opts.End) {
		a.closeAll(a.opts.End)
		a.endReached = true
		return false
	}

	a.last[pair] = observation{priceA: ev.PriceA, priceB: ev.PriceB, at: ts}

	switch ev.Kind {
	case domain.EventEntry:
		if pos, exists := a.open[pair]; exists {
			if a.opts.DuplicateEntry == DuplicateEntryIgnore {
				a.log.Debug("duplicate entry ignored", zap.String("pair", pair), zap.Time("at", ts))
				return true
			}
			a.log.Debug("duplicate entry force-closes open position", zap.String("pair", pair), zap.Time("at", ts))
			delete(a.open, pair)
			a.close(pos, ev.PriceA, ev.PriceB, ts, nil, true)
		}
		a.openPosition(ev)

	case domain.EventExit:
		pos, exists := a.open[pair]
		if !exists {
			return true
		}
		delete(a.open, pair)
		var reported *decimal.Decimal
		if ev.PnL != nil && !pos.boundaryMarked {
			reported = ev.PnL
		}
		a.close(pos, ev.PriceA, ev.PriceB, ts, reported, false)
	}
	return true
}

// Finish force-closes positions still open and returns the analysis.
// Calling Finish more than once returns the same totals.
func (a *Accountant) Finish() *Analysis {
	if !a.finished {
		a.finished = true
		if a.windowStarted && !a.endReached {
			// zero boundary: each position exits at its last observed price time
			a.closeAll(a.opts.End)
		}
	}

	status := StatusOK
	if len(a.trades) == 0 {
		status = StatusNoActivity
	}
	trades := make([]domain.ClosedTrade, len(a.trades))
	copy(trades, a.trades)
	return &Analysis{Status: status, TotalPnL: a.total, Trades: trades}
}

func (a *Accountant) openPosition(ev domain.TradeEvent) {
	if pos, exists := a.open[ev.Pair]; exists {
		// pre-window replacement keeps its place in close order
		pos.entry = ev
		pos.boundaryMarked = false
		return
	}
	a.open[ev.Pair] = &position{entry: ev, seq: a.nextID}
	a.nextID++
}

// markBoundary resets every pre-window position to the last pre-window prices.
func (a *Accountant) markBoundary() {
	for pair, pos := range a.open {
		pos.boundaryMarked = true
		if obs, ok := a.last[pair]; ok {
			pos.entry.PriceA = obs.priceA
			pos.entry.PriceB = obs.priceB
		}
		pos.entry.Timestamp = a.opts.Start
	}
}

// closeAll closes open positions in open order. A zero boundary uses each pair's last observation time.
func (a *Accountant) closeAll(boundary time.Time) {
	positions := make([]*position, 0, len(a.open))
	for _, pos := range a.open {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].seq < positions[j].seq })

	for _, pos := range positions {
		obs, ok := a.last[pos.entry.Pair]
		if !ok {
			continue
		}
		exitAt := boundary
		if exitAt.IsZero() {
			exitAt = obs.at
		}
		a.close(pos, obs.priceA, obs.priceB, exitAt, nil, true)
	}
	a.open = make(map[string]*position)
}

func (a *Accountant) close(pos *position, exitA, exitB decimal.Decimal, exitAt time.Time, reported *decimal.Decimal, forced bool) {
	entry := pos.entry

	var pnl decimal.Decimal
	if reported != nil {
		pnl = *reported
	} else {
		pnl = spreadPnL(entry, exitA, exitB)
	}

	if a.costRatio.IsPositive() {
		entryCost := decimal.Zero
		if !pos.boundaryMarked {
			entryCost = entry.PriceA.Mul(entry.SizeA).Add(entry.PriceB.Mul(entry.SizeB)).Mul(a.costRatio)
		}
		exitCost := exitA.Mul(entry.SizeA).Add(exitB.Mul(entry.SizeB)).Mul(a.costRatio)
		pnl = pnl.Sub(entryCost).Sub(exitCost)
	}

	notional := entry.PriceA.Mul(entry.SizeA).Abs().Add(entry.PriceB.Mul(entry.SizeB).Abs())
	ret := 0.0
	if notional.IsPositive() {
		ret = pnl.Div(notional).InexactFloat64()
	}

	hold := 0.0
	if !entry.Timestamp.IsZero() && !exitAt.IsZero() {
		hold = max(0, exitAt.Sub(entry.Timestamp).Seconds())
	}

	a.total = a.total.Add(pnl)
	a.trades = append(a.trades, domain.ClosedTrade{
		Pair:           entry.Pair,
		Direction:      entry.Direction,
		EntryTime:      entry.Timestamp,
		ExitTime:       exitAt,
		PnL:            pnl,
		Return:         ret,
		HoldSeconds:    hold,
		BoundaryMarked: pos.boundaryMarked,
		Forced:         forced,
	})
}

func spreadPnL(entry domain.TradeEvent, exitA, exitB decimal.Decimal) decimal.Decimal {
	switch entry.Direction {
	case domain.DirectionLongSpread:
		legA := exitA.Sub(entry.PriceA).Mul(entry.SizeA)
		legB := entry.PriceB.Sub(exitB).Mul(entry.SizeB)
		return legA.Add(legB)
	case domain.DirectionShortSpread:
		legA := entry.PriceA.Sub(exitA).Mul(entry.SizeA)
		legB := exitB.Sub(entry.PriceB).Mul(entry.SizeB)
		return legA.Add(legB)
	default:
		return decimal.Zero
	}
}

// Analyze reads an event log and returns the accounting result.
// Lines that are not trade events are skipped.
func Analyze(r io.Reader, opts Options) (*Analysis, error) {
	acc := New(opts)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		ev, ok := eventlog.ParseLine(scanner.Text())
		if !ok {
			continue
		}
		if !acc.Observe(ev) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	return acc.Finish(), nil
}

// AnalyzeFile is Analyze over a file. It never fails: a missing or unreadable
// log yields a StatusFailed analysis with zero pnl and no trades.
func AnalyzeFile(path string, opts Options) *Analysis {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Warn("event log unavailable", zap.String("path", path), zap.Error(err))
		return Failed(fmt.Errorf("open event log: %w", err))
	}
	defer f.Close()

	analysis, err := Analyze(f, opts)
	if err != nil {
		logger.Warn("event log unreadable", zap.String("path", path), zap.Error(err))
		return Failed(err)
	}
	return analysis
}
