package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/benchdaq/pkg/types"
)

func TestParseWellFormedLine(t *testing.T) {
	outcome := Parse("temp:23.5,voltage:5.01")

	require.True(t, outcome.OK())
	assert.Equal(t, []types.FieldPair{
		{Key: "temp", Value: 23.5},
		{Key: "voltage", Value: 5.01},
	}, outcome.Pairs)
}

func TestParseEmptyLine(t *testing.T) {
	for _, line := range []string{"", "   ", "\t\r\n"} {
		outcome := Parse(line)
		assert.Empty(t, outcome.Pairs, "line %q", line)
		assert.Empty(t, outcome.Failures, "line %q", line)
	}
}

func TestParsePartialFailure(t *testing.T) {
	outcome := Parse("temp:23.5,bad_segment")

	assert.Equal(t, []types.FieldPair{{Key: "temp", Value: 23.5}}, outcome.Pairs)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, types.SegmentError{Index: 1, Segment: "bad_segment", Reason: types.ReasonMissingSeparator}, outcome.Failures[0])
}

func TestParseNonNumeric(t *testing.T) {
	outcome := Parse("temp:abc")

	assert.Empty(t, outcome.Pairs)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, types.ReasonNonNumeric, outcome.Failures[0].Reason)
}

func TestParseSegmentFailures(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason types.Reason
	}{
		{"no colon", "temp", types.ReasonMissingSeparator},
		{"two colons", "time:12:30", types.ReasonMultipleSeparators},
		{"empty key", ":1.5", types.ReasonEmptyKey},
		{"blank key", "   :1.5", types.ReasonEmptyKey},
		{"empty value", "temp:", types.ReasonNonNumeric},
		{"hex value", "temp:0x1p-2", types.ReasonNonNumeric},
		{"signed hex value", "temp:-0X10", types.ReasonNonNumeric},
		{"nan", "temp:NaN", types.ReasonNonFinite},
		{"inf", "temp:-Inf", types.ReasonNonFinite},
		{"overflow", "temp:1e400", types.ReasonNonNumeric},
		{"empty segment", ",", types.ReasonMissingSeparator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := Parse(tt.line)
			require.NotEmpty(t, outcome.Failures)
			assert.Equal(t, tt.reason, outcome.Failures[0].Reason)
			assert.Empty(t, outcome.Pairs)
		})
	}
}

func TestParseTrimsKeysAndValues(t *testing.T) {
	outcome := Parse("  temp : 23.5 ,\tvoltage:\t-5e-1  ")

	require.True(t, outcome.OK())
	assert.Equal(t, []types.FieldPair{
		{Key: "temp", Value: 23.5},
		{Key: "voltage", Value: -0.5},
	}, outcome.Pairs)
}

func TestParseKeepsDuplicateKeys(t *testing.T) {
	outcome := Parse("t:1,t:2")

	assert.Equal(t, []types.FieldPair{{Key: "t", Value: 1}, {Key: "t", Value: 2}}, outcome.Pairs)
}

func TestParseOneBadSegmentAmongMany(t *testing.T) {
	outcome := Parse("a:1,b:2,c:oops,d:4,e:5")

	assert.Len(t, outcome.Pairs, 4)
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, 2, outcome.Failures[0].Index)
	assert.Equal(t, "c:oops", outcome.Failures[0].Segment)
}

func TestParseDecimalRoundTrip(t *testing.T) {
	outcome := Parse("a:0.1,b:1e-3,c:-42,d:+7.25")

	require.True(t, outcome.OK())
	values := make([]float64, 0, len(outcome.Pairs))
	for _, p := range outcome.Pairs {
		values = append(values, p.Value)
	}
	assert.Equal(t, []float64{0.1, 0.001, -42, 7.25}, values)
}
