package dfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/pktfilter/registry"
)

func TestOptimize(t *testing.T) {
	reg := registry.Default()

	tests := []struct {
		filter   string
		expected string
	}{
		{filter: "true and tcp", expected: "tcp"},
		{filter: "tcp and true", expected: "tcp"},
		{filter: "false or tcp", expected: "tcp"},
		{filter: "true or tcp", expected: "true"},
		{filter: "tcp and false", expected: "false"},
		{filter: "not not tcp", expected: "tcp"},
		{filter: "not true", expected: "false"},
		{filter: "tcp xor true", expected: "not tcp"},
		{filter: "tcp xor false", expected: "tcp"},
		{filter: "true xor true", expected: "false"},
		{filter: "tcp.port == 1 + 2", expected: "tcp.port == 3"},
		{filter: "tcp.port == 2 * 3 + 1", expected: "tcp.port == 7"},
		{filter: "tcp.port == 7 / 0", expected: "tcp.port == 7 / 0"},
		{filter: "frame.time_epoch > 1e10 * 1e10", expected: "frame.time_epoch > 1e+20"},
		{filter: "frame.time_epoch > 1e308 * 10", expected: "frame.time_epoch > 1e308 * 10"},
		{filter: "tcp.srcport == 1 - -1", expected: "tcp.srcport == 2"},
		{filter: "abs(-5) == 5", expected: "true"},
		{filter: `len("abc") == 3`, expected: "true"},
		{filter: `upper("ab") == "AB"`, expected: "true"},
		{filter: `"abc"[1:] == "bc"`, expected: "true"},
		{filter: `"abc" matches "^a"`, expected: "true"},
		{filter: "1 in {1 2}", expected: "true"},
		{filter: "3 in {1..2}", expected: "false"},
		{filter: "5", expected: "true"},
		{filter: "0", expected: "false"},
		{filter: "tcp.port == 80 and 1 == 1", expected: "tcp.port == 80"},
		{filter: "count(tcp.port) == 1", expected: "count(tcp.port) == 1"},
		{filter: "tcp.port == 80", expected: "tcp.port == 80"},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Compile(tt.filter, reg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.String())
		})
	}
}

func TestOptimizeIdempotent(t *testing.T) {
	reg := registry.Default()

	filters := []string{
		"true and tcp or udp and false",
		"not not not tcp",
		"tcp.port == 1 + 2 * 3",
		"tcp xor true xor udp",
		`len("abc") + tcp.srcport > 3`,
		`tcp.payload[0:2] == "abc"[0:2]`,
		"1 == 1 and ip.src in {10.0.0.0/8} and 2 in {1..3}",
		"-(-5) == abs(-5)",
	}
	for _, tt := range evaluationTests {
		filters = append(filters, tt.filter)
	}

	for _, text := range filters {
		t.Run(text, func(t *testing.T) {
			f, err := Compile(text, reg)
			require.NoError(t, err)

			before := newGenerator().generate(f.expr)
			formatted := FormatExpr(f.expr)

			again := (&optimizer{}).optimize(f.expr)
			after := newGenerator().generate(again)

			assert.Equal(t, formatted, FormatExpr(again))
			assert.Equal(t, before.code, after.code)
			assert.Equal(t, before.consts, after.consts)
			assert.Equal(t, before.refs, after.refs)
		})
	}
}

func TestOptimizeDisabled(t *testing.T) {
	reg := registry.Default()

	f, err := Compile("1 == 2 and tcp.port == 80", reg, WithOptimize(false))
	require.NoError(t, err)

	assert.Equal(t, []registry.FieldID{reg.MustLookup("tcp.port")}, f.InterestingFields())
	assert.False(t, f.Evaluate(httpPacket(reg)))
	assert.Empty(t, f.Warnings())
	assert.Equal(t, "1 == 2 and tcp.port == 80", f.String())
}

func TestOptimizeWarnings(t *testing.T) {
	reg := registry.Default()

	tests := []struct {
		filter   string
		expected []string
	}{
		{filter: "1 == 2", expected: []string{`"1 == 2" is always false`}},
		{filter: "1 in {1 2}", expected: []string{`"1 in {1 2}" is always true`}},
		{filter: `"x" matches "y"`, expected: []string{`"\"x\" matches \"y\"" is always false`}},
		{filter: "true and tcp", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Compile(tt.filter, reg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.Warnings())
		})
	}
}
