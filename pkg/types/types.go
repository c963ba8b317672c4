package types

import (
	"fmt"
	"time"
)

// SeriesKey identifies one named measured quantity (e.g. "temp", "voltage")
type SeriesKey string

// FieldPair is one parsed key:value segment of a response line
type FieldPair struct {
	Key   SeriesKey
	Value float64
}

// Sample is a single stored value together with the ingestion cycle that produced it
type Sample struct {
	Seq   uint64    `json:"seq"`
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Reason classifies why a segment could not be parsed
type Reason string

const (
	ReasonMissingSeparator   Reason = "missing separator"
	ReasonMultipleSeparators Reason = "multiple separators"
	ReasonEmptyKey           Reason = "empty key"
	ReasonNonNumeric         Reason = "non-numeric value"
	ReasonNonFinite          Reason = "non-finite value"
)

// SegmentError describes one segment of a line that was skipped
type SegmentError struct {
	Index   int    `json:"index"`
	Segment string `json:"segment"`
	Reason  Reason `json:"reason"`
}

func (e SegmentError) Error() string {
	return fmt.Sprintf("segment %d %q: %s", e.Index, e.Segment, e.Reason)
}

// ParseOutcome is the result of parsing one raw line. A line is the union of
// its segment outcomes; it never fails as a whole.
type ParseOutcome struct {
	Line     string
	Pairs    []FieldPair
	Failures []SegmentError
}

// OK reports whether every segment of the line parsed
func (o ParseOutcome) OK() bool {
	return len(o.Failures) == 0
}
