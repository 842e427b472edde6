package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lobbygraph/backend/pkg/graph"
	"github.com/lobbygraph/backend/pkg/record"
)

// AmountPolicy decides what happens to filings that declare no amount.
type AmountPolicy string

const (
	// AmountSkip drops the filing. Such filings report no lobbying activity
	// for the period.
	AmountSkip AmountPolicy = "skip"
	// AmountZero loads the filing with an amount of 0.
	AmountZero AmountPolicy = "zero"
)

func ParseAmountPolicy(s string) (AmountPolicy, error) {
	switch p := AmountPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case AmountSkip, AmountZero:
		return p, nil
	case "":
		return AmountSkip, nil
	default:
		return "", fmt.Errorf("unknown missing amount policy %q", s)
	}
}

var receivedLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type filingMeta struct {
	props     map[string]any
	amount    int64
	hasAmount bool
}

// parseFiling validates the filing metadata and builds the Filing node
// properties, without the amount.
func parseFiling(rec record.Filing) (filingMeta, error) {
	meta := filingMeta{props: map[string]any{}}
	if id, ok := graph.Normalize(rec.ID); ok {
		meta.props["filingId"] = id
	}
	if y, ok := graph.Normalize(rec.Year); ok {
		year, err := strconv.ParseInt(y, 10, 64)
		if err != nil {
			return meta, fmt.Errorf("%w: year %q", graph.ErrMalformedRecord, y)
		}
		meta.props["year"] = year
	}
	if r, ok := graph.Normalize(rec.Received); ok {
		received, err := parseReceived(r)
		if err != nil {
			return meta, fmt.Errorf("%w: received %q", graph.ErrMalformedRecord, r)
		}
		meta.props["receivedOn"] = received
	}
	if a, ok := graph.Normalize(rec.Amount); ok {
		amount, err := parseAmount(a)
		if err != nil {
			return meta, fmt.Errorf("%w: amount %q", graph.ErrMalformedRecord, a)
		}
		meta.amount = amount
		meta.hasAmount = true
	}
	if t, ok := graph.Normalize(rec.Type); ok {
		meta.props["type"] = t
	}
	if p, ok := graph.Normalize(rec.Period); ok {
		meta.props["period"] = p
	}
	return meta, nil
}

func parseReceived(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range receivedLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseAmount accepts whole, non-negative dollar amounts. "5000.00" is
// allowed; fractions, negatives and values past int64 are not.
func parseAmount(s string) (int64, error) {
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("negative amount")
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f < 0 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("amount out of range")
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("amount is not a whole number")
	}
	return int64(f), nil
}
