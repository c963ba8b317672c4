// Package parser turns raw instrument response lines into numeric field pairs.
//
// The wire format is segment(,segment)* where segment is key:value. Keys are
// arbitrary non-colon text and values are decimal floating-point literals.
package parser

import (
	"math"
	"strconv"
	"strings"

	"github.com/vjranagit/benchdaq/pkg/types"
)

const (
	segmentSeparator = ","
	pairSeparator    = ":"
)

// Parse parses one line. Malformed segments are reported in Failures and
// never stop the remaining segments from being parsed.
func Parse(line string) types.ParseOutcome {
	line = strings.TrimSpace(line)
	outcome := types.ParseOutcome{Line: line}
	if line == "" {
		return outcome
	}

	for i, segment := range strings.Split(line, segmentSeparator) {
		pair, reason, ok := parseSegment(segment)
		if !ok {
			outcome.Failures = append(outcome.Failures, types.SegmentError{
				Index:   i,
				Segment: segment,
				Reason:  reason,
			})
			continue
		}
		outcome.Pairs = append(outcome.Pairs, pair)
	}

	return outcome
}

// parseSegment parses a single key:value segment
func parseSegment(segment string) (types.FieldPair, types.Reason, bool) {
	switch strings.Count(segment, pairSeparator) {
	case 0:
		return types.FieldPair{}, types.ReasonMissingSeparator, false
	case 1:
	default:
		return types.FieldPair{}, types.ReasonMultipleSeparators, false
	}

	rawKey, rawValue, _ := strings.Cut(segment, pairSeparator)
	key := strings.TrimSpace(rawKey)
	if key == "" {
		return types.FieldPair{}, types.ReasonEmptyKey, false
	}

	value, reason, ok := parseValue(strings.TrimSpace(rawValue))
	if !ok {
		return types.FieldPair{}, reason, false
	}

	return types.FieldPair{Key: types.SeriesKey(key), Value: value}, "", true
}

// parseValue accepts decimal literals only; hex floats and NaN/Inf are rejected
func parseValue(raw string) (float64, types.Reason, bool) {
	if isHexLiteral(raw) {
		return 0, types.ReasonNonNumeric, false
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, types.ReasonNonNumeric, false
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, types.ReasonNonFinite, false
	}

	return value, "", true
}

func isHexLiteral(raw string) bool {
	raw = strings.TrimLeft(raw, "+-")
	return strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X")
}
