package analyzer_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/appeal/analyzer"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sincereReason = "I am really sorry for spamming the general channel yesterday. " +
	"I understand it broke rule 3 and I accept the timeout was my fault. " +
	"I have learned my lesson and promise it will not happen again."

func input(reason string, prior ...string) analyzer.Input {
	in := analyzer.Input{
		Appeal:           &types.Appeal{ID: uuid.New(), ReasonText: reason},
		HistoryAvailable: true,
	}
	for _, p := range prior {
		in.Prior = append(in.Prior, &types.Appeal{ID: uuid.New(), ReasonText: p})
	}
	return in
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          analyzer.Input
		want        enum.Decision
		wantFactors []string
		minConf     float64
		maxConf     float64
	}{
		{
			name:        "sincere and specific",
			in:          input(sincereReason),
			want:        enum.DecisionApprove,
			wantFactors: []string{analyzer.FactorSincere, analyzer.FactorDetailed},
			minConf:     0.9,
			maxConf:     0.95,
		},
		{
			name:        "hostile and shouting",
			in:          input("THIS BAN IS A JOKE!!! YOUR MODS ARE CORRUPT IDIOTS AND THIS SERVER IS TRASH"),
			want:        enum.DecisionReject,
			wantFactors: []string{analyzer.FactorHostile, analyzer.FactorShouting},
			minConf:     0.75,
			maxConf:     1,
		},
		{
			name:        "boilerplate text",
			in:          input("Please unban me, I did nothing wrong. Please unban me."),
			want:        enum.DecisionReject,
			wantFactors: []string{analyzer.FactorThin, analyzer.FactorBoilerplate},
			minConf:     0.75,
			maxConf:     1,
		},
		{
			name:        "copy of an earlier appeal",
			in:          input(sincereReason, sincereReason),
			want:        enum.DecisionDefer,
			wantFactors: []string{analyzer.FactorSincere, analyzer.FactorDetailed, analyzer.FactorRepeated},
			minConf:     0.3,
			maxConf:     0.45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := analyzer.New(zap.NewNop())
			got := a.Analyze(t.Context(), tt.in, config.DefaultAnalyzerConfig())

			assert.Equal(t, tt.want, got.Decision)
			assert.Equal(t, tt.wantFactors, got.Factors)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf)
			assert.LessOrEqual(t, got.Confidence, tt.maxConf)
			assert.False(t, got.Degraded)
		})
	}
}

func TestAnalyzeDegrades(t *testing.T) {
	t.Parallel()

	noSignals := config.DefaultAnalyzerConfig()
	noSignals.SentimentAnalysisEnabled = false
	noSignals.ContextAnalysisEnabled = false

	withoutHistory := input(sincereReason)
	withoutHistory.HistoryAvailable = false

	tests := []struct {
		name string
		in   analyzer.Input
		cfg  config.AnalyzerConfig
	}{
		{"reason too short", input("unban pls"), config.DefaultAnalyzerConfig()},
		{"empty reason", input("   "), config.DefaultAnalyzerConfig()},
		{"history unavailable", withoutHistory, config.DefaultAnalyzerConfig()},
		{"no signals enabled", input(sincereReason), noSignals},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := analyzer.New(zap.NewNop()).Analyze(t.Context(), tt.in, tt.cfg)
			assert.True(t, got.Degraded)
			assert.Equal(t, enum.DecisionDefer, got.Decision)
			assert.InDelta(t, analyzer.DegradedConfidence, got.Confidence, 0)
			assert.True(t, got.HasFactor(analyzer.FactorDegraded))
		})
	}
}

func TestAnalyzeWithoutPatternDetection(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultAnalyzerConfig()
	cfg.EnablePatternDetection = false

	in := input(sincereReason, sincereReason)
	in.HistoryAvailable = false

	got := analyzer.New(zap.NewNop()).Analyze(t.Context(), in, cfg)
	require.False(t, got.Degraded)
	assert.Equal(t, enum.DecisionApprove, got.Decision)
	assert.False(t, got.HasFactor(analyzer.FactorRepeated))
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	t.Parallel()

	a := analyzer.New(zap.NewNop())
	in := input("I was provoked in the conversation, see the screenshot in #general from 10pm", "unrelated text")
	cfg := config.DefaultAnalyzerConfig()

	first := a.Analyze(t.Context(), in, cfg)
	for range 10 {
		assert.Equal(t, first, a.Analyze(t.Context(), in, cfg))
	}
	assert.True(t, first.Complex)
	assert.True(t, first.HasFactor(analyzer.FactorComplex))
}
