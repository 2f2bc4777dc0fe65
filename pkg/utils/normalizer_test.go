package utils_test

import (
	"testing"

	"github.com/robalyx/arbiter/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestTextNormalizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		want     string
		contains string
		hasMatch bool
	}{
		{
			name:     "empty string",
			input:    "",
			want:     "",
			contains: "test",
			hasMatch: false,
		},
		{
			name:     "basic string",
			input:    "Hello World",
			want:     "hello world",
			contains: "hello",
			hasMatch: true,
		},
		{
			name:     "string with diacritics",
			input:    "héllo wörld",
			want:     "hello world",
			contains: "world",
			hasMatch: true,
		},
		{
			name:     "mixed case with spaces",
			input:    "HéLLo   WöRLD",
			want:     "hello world",
			contains: "HELLO",
			hasMatch: true,
		},
		{
			name:     "no match in string",
			input:    "hello world",
			want:     "hello world",
			contains: "goodbye",
			hasMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			normalizer := utils.NewTextNormalizer()

			got := normalizer.Normalize(tt.input)
			assert.Equal(t, tt.want, got)

			hasMatch := normalizer.Contains(tt.input, tt.contains)
			assert.Equal(t, tt.hasMatch, hasMatch)
		})
	}
}

func TestTextNormalizer_Words(t *testing.T) {
	t.Parallel()

	normalizer := utils.NewTextNormalizer()

	assert.Equal(t, []string{"i", "didnt", "do", "it", "sorry"}, normalizer.Words("I didn't do it... SORRY!"))
	assert.Equal(t, "please unban me", normalizer.Phrase("Pléase, UNBAN me!!"))
	assert.Nil(t, normalizer.Words("   "))
}

func TestTextNormalizer_Similarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "identical after normalization",
			a:    "Please unban me, I did nothing wrong",
			b:    "please UNBAN me i did nothing wrong!!",
			want: 1,
		},
		{
			name: "half overlap",
			a:    "alpha beta",
			b:    "beta gamma",
			want: 1.0 / 3.0,
		},
		{
			name: "disjoint",
			a:    "alpha",
			b:    "beta",
			want: 0,
		},
		{
			name: "empty side",
			a:    "",
			b:    "beta",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			normalizer := utils.NewTextNormalizer()
			assert.InDelta(t, tt.want, normalizer.Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestConfidence(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.75, utils.WeightedConfidence([]float64{1, 0.5}, []float64{1, 1}), 1e-9)
	assert.InDelta(t, 0.0, utils.WeightedConfidence([]float64{1}, []float64{0}), 1e-9)
	assert.InDelta(t, 1.0, utils.RoundConfidence(1.7), 1e-9)
	assert.InDelta(t, 0.0, utils.RoundConfidence(-0.2), 1e-9)
}

func TestStringHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b\nc", utils.CompressWhitespacePreserveNewlines("a   b\r\n c "))
	assert.Equal(t, "hello...", utils.Truncate("hello world", 8))
	assert.Equal(t, "short", utils.Truncate("short", 8))
	assert.InDelta(t, 0.5, utils.UpperRatio("AbC d!"), 0.01)
	assert.InDelta(t, 0.0, utils.UpperRatio("123"), 1e-9)
}
