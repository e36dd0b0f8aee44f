package relay

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitByBytes(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want int
	}{
		{"empty", "", 10, 0},
		{"fits", "hello", 10, 1},
		{"exact", "0123456789", 10, 1},
		{"no limit", strings.Repeat("x", 100), 0, 1},
		{"ascii 10000 by 3900", strings.Repeat("a", 10000), 3900, 3},
		{"japanese", strings.Repeat("あいうえお", 100), 150, 10},
		{"tiny max", "日本", 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitByBytes(tt.text, tt.max)
			assert.Len(t, chunks, tt.want)
			assert.Equal(t, tt.text, strings.Join(chunks, ""))
			for _, c := range chunks {
				assert.True(t, utf8.ValidString(c), "chunk %q splits a rune", c)
				if tt.max > 0 && utf8.RuneCountInString(c) > 1 {
					assert.LessOrEqual(t, len(c), tt.max)
				}
			}
		})
	}
}

func TestSplitByBytes_PrefersNewline(t *testing.T) {
	text := "first line\nsecond line that is long\nthird"
	chunks := SplitByBytes(text, 20)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "first line\n", chunks[0])
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitByBytes_Invariants(t *testing.T) {
	inputs := []string{
		strings.Repeat("ログ出力を確認してください。\n", 300),
		strings.Repeat("mixed 混在 text 🙂\n", 500),
		strings.Repeat("a", 3899) + "é" + strings.Repeat("b", 4000),
	}
	for _, max := range []int{5, 17, 100, 3900} {
		for _, in := range inputs {
			chunks := SplitByBytes(in, max)
			require.Equal(t, in, strings.Join(chunks, ""))
			for _, c := range chunks {
				require.NotEmpty(t, c)
				require.True(t, utf8.ValidString(c))
				require.LessOrEqual(t, len(c), max)
			}
		}
	}
}
