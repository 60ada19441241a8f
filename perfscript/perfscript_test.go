package perfscript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "basic",
			line: "1234.500000: 100 cycles: 1000 mySymbol (libfoo.so)",
			want: Event{Timestamp: 1234.5, PC: 0x1000, Period: 100, Kind: "cycles", Symbol: "mySymbol", DSO: "libfoo.so", Count: 1},
		},
		{
			name: "symbol with spaces and offset",
			line: "471186.145234:     306431 cycles:u:  7f6f13226a35 std::vector<int> grow+0x115 (/usr/lib/libstdc++.so.6)",
			want: Event{Timestamp: 471186.145234, PC: 0x7f6f13226a35, Period: 306431, Kind: "cycles:u", Symbol: "std::vector<int> grow+0x115", DSO: "/usr/lib/libstdc++.so.6", Count: 1},
		},
		{
			name: "unknown symbol",
			line: "10.0: 1 cycles: ffffffff81000000 [unknown] ([unknown])",
			want: Event{Timestamp: 10.0, PC: 0xffffffff81000000, Period: 1, Kind: "cycles", Symbol: "[unknown]", DSO: "[unknown]", Count: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Decode(strings.NewReader(tt.line + "\n"))
			require.NoError(t, err)
			require.Len(t, out.RawEvents, 1)
			assert.Equal(t, tt.want, *out.RawEvents[0])
		})
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	in := "\n1234.5: 100 cycles: 1000 a (b)\n\n   \n1234.6: 50 cycles: 2000 c (d)\n"
	out, err := Decode(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, out.TotalSamples)
	assert.Equal(t, int64(150), out.TotalPeriod)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(strings.NewReader("1234.5: 100 cycles: 1000 a (b)\nnot a sample\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a sample")
	assert.Contains(t, err.Error(), "line 2")
}

func TestDecodeEmptyStream(t *testing.T) {
	out, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, out.TotalSamples)
	assert.Zero(t, out.TotalPeriod)
	assert.Empty(t, out.Events)
}

func TestMergeByAddress(t *testing.T) {
	in := strings.Join([]string{
		"1.0: 100 cycles: 1000 a (x)",
		"2.0: 50 cycles: 1000 a (x)",
		"3.0: 7 cycles: 2000 b (y)",
	}, "\n")
	out, err := Decode(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, out.Events, 2)
	merged := out.Events[0]
	assert.Equal(t, uint64(0x1000), merged.PC)
	assert.Equal(t, int64(150), merged.Period)
	assert.Equal(t, 1, merged.Count, "merging must not change the sample count")

	// The raw list keeps the original records unchanged.
	require.Len(t, out.RawEvents, 3)
	assert.Equal(t, int64(100), out.RawEvents[0].Period)
	assert.Equal(t, int64(50), out.RawEvents[1].Period)

	// Merged events are copies: rewriting them leaves raw events intact.
	merged.Symbol = "rewritten"
	assert.Equal(t, "a", out.RawEvents[0].Symbol)
}

func TestTopSymbols(t *testing.T) {
	in := strings.Join([]string{
		"1.0: 10 cycles: 1000 small (x)",
		"1.1: 200 cycles: 2000 big (x)",
		"1.2: 90 cycles: 3000 small (x)",
		"1.3: 100 cycles: 4000 tied-first (y)",
		"1.4: 100 cycles: 5000 tied-second (y)",
	}, "\n")
	out, err := Decode(strings.NewReader(in))
	require.NoError(t, err)

	top := out.TopSymbols()
	require.Len(t, top, 4)
	assert.Equal(t, SymbolAggregate{Symbol: "big", DSO: "x", Period: 200}, top[0])
	assert.Equal(t, SymbolAggregate{Symbol: "small", DSO: "x", Period: 100}, top[1])
	// Stable sort keeps first-seen order for equal periods.
	assert.Equal(t, "tied-first", top[2].Symbol)
	assert.Equal(t, "tied-second", top[3].Symbol)
}
