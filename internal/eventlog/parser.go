// Package eventlog parses ENTRY/EXIT lines written by the pair-trading engine.
//
// Line grammar:
//
//	<YYYY-MM-DDTHH:MM:SS+ZZZZ> ... [ENTRY|EXIT] pair=<id> direction=<dir>
//	    size_a=<dec> price_a=<dec> size_b=<dec> price_b=<dec> [... ts=<epoch>] [... pnl=<dec>]
//
// Anything that does not match is not an error; it is simply not a trade event.
package eventlog

import (
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// TimestampLayout is the log timestamp format (numeric zone offset, no colon).
const TimestampLayout = "2006-01-02T15:04:05-0700"

var (
	linePattern = regexp.MustCompile(
		`^(?P<timestamp>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[+-]\d{4})\s+` +
			`.*?\[(?P<kind>ENTRY|EXIT)\]\s+` +
			`pair=(?P<pair>\S+)\s+` +
			`direction=(?P<direction>\S+)\s+` +
			`size_a=(?P<size_a>\S+)\s+` +
			`price_a=(?P<price_a>\S+)\s+` +
			`size_b=(?P<size_b>\S+)\s+` +
			`price_b=(?P<price_b>\S+)` +
			`(?P<rest>\s.*)?$`,
	)
	epochPattern = regexp.MustCompile(`(?:^|\s)ts=(\d+)(?:\s|$)`)
	pnlPattern   = regexp.MustCompile(`\bpnl=([-+]?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)`)

	groupIndex = func() map[string]int {
		idx := make(map[string]int)
		for i, name := range linePattern.SubexpNames() {
			if name != "" {
				idx[name] = i
			}
		}
		return idx
	}()
)

// ParseLine parses one log line into a TradeEvent.
// Returns false when the line is not a trade event or a leg field is not a decimal.
func ParseLine(line string) (domain.TradeEvent, bool) {
	m := linePattern.FindStringSubmatch(trimEOL(line))
	if m == nil {
		return domain.TradeEvent{}, false
	}
	group := func(name string) string { return m[groupIndex[name]] }

	ts, err := time.Parse(TimestampLayout, group("timestamp"))
	if err != nil {
		return domain.TradeEvent{}, false
	}
	if em := epochPattern.FindStringSubmatch(group("rest")); em != nil {
		if secs, err := strconv.ParseInt(em[1], 10, 64); err == nil {
			ts = time.Unix(secs, 0).UTC()
		}
	}

	var legs [4]decimal.Decimal
	for i, name := range []string{"size_a", "price_a", "size_b", "price_b"} {
		d, err := decimal.NewFromString(group(name))
		if err != nil {
			return domain.TradeEvent{}, false
		}
		legs[i] = d
	}

	ev := domain.TradeEvent{
		Kind:      domain.EventKind(group("kind")),
		Pair:      group("pair"),
		Direction: domain.Direction(group("direction")),
		Timestamp: ts,
		SizeA:     legs[0],
		PriceA:    legs[1],
		SizeB:     legs[2],
		PriceB:    legs[3],
	}

	// pnl may appear anywhere on the line
	if pm := pnlPattern.FindStringSubmatch(line); pm != nil {
		if pnl, err := decimal.NewFromString(pm[1]); err == nil {
			ev.PnL = &pnl
		}
	}

	return ev, true
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
