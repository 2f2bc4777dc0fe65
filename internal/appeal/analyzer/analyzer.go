package analyzer

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/robalyx/arbiter/pkg/utils"
	"go.uber.org/zap"
)

// Factor names recorded in AutoReviewResult.Factors.
const (
	FactorSincere     = "sincere_language"
	FactorHostile     = "hostile_language"
	FactorShouting    = "shouting"
	FactorDetailed    = "detailed_context"
	FactorComplex     = "complex_context"
	FactorThin        = "thin_context"
	FactorBoilerplate = "boilerplate_text"
	FactorRepeated    = "repeated_appeal"
	FactorDegraded    = "analysis_degraded"
)

// DegradedConfidence is the confidence reported when an appeal cannot be scored.
const DegradedConfidence = 0.1

// Signal weights and the penalty applied to templated or repeated text.
const (
	sentimentWeight = 0.6
	contextWeight   = 0.4
	patternPenalty  = 0.4
)

var (
	apologyWords = wordSet(
		"sorry", "apologize", "apologise", "apologies", "apology", "regret", "mistake",
		"understand", "learned", "learnt", "promise", "responsibility", "accept", "fault",
		"realize", "realise",
	)
	hostileWords = wordSet(
		"stupid", "idiot", "idiots", "unfair", "corrupt", "hate", "trash", "pathetic",
		"garbage", "clown", "clowns", "joke", "abusive", "tyrant", "dumb",
	)
	referenceWords = wordSet(
		"rule", "rules", "channel", "message", "messages", "because", "when", "context",
		"screenshot", "evidence", "misunderstanding", "provoked", "quote", "quoted",
		"conversation", "timeout", "ban", "banned", "muted", "kicked", "warning",
	)
	complexWords = wordSet(
		"context", "screenshot", "evidence", "misunderstanding", "provoked", "conversation",
	)
)

// Input is everything the analyzer scores.
type Input struct {
	Appeal *types.Appeal
	// Prior holds the user's earlier appeals in the same guild.
	Prior []*types.Appeal
	// HistoryAvailable is false when the prior appeals could not be loaded.
	HistoryAvailable bool
}

// Analyzer scores appeals with fixed lexicons. It holds no per-call state,
// so identical inputs always give identical results.
type Analyzer struct {
	logger *zap.Logger
}

// New creates an Analyzer.
func New(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("analyzer")}
}

// Analyze scores the appeal and recommends a decision. Missing inputs produce
// a low-confidence deferral flagged as degraded instead of an error.
func (a *Analyzer) Analyze(_ context.Context, in Input, cfg config.AnalyzerConfig) *types.AutoReviewResult {
	text := strings.TrimSpace(in.Appeal.ReasonText)

	switch {
	case !cfg.SentimentAnalysisEnabled && !cfg.ContextAnalysisEnabled:
		return a.degraded(in.Appeal, "no scoring signals are enabled")
	case utf8.RuneCountInString(text) < cfg.MinReasonLength:
		return a.degraded(in.Appeal, "reason is too short to score")
	case cfg.EnablePatternDetection && !in.HistoryAvailable:
		return a.degraded(in.Appeal, "appeal history is unavailable")
	}

	normalizer := utils.NewTextNormalizer()
	words := normalizer.Words(text)

	var (
		scores       []float64
		weights      []float64
		factors      []string
		needsContext bool
	)

	if cfg.SentimentAnalysisEnabled {
		score, f := scoreSentiment(text, words)
		scores = append(scores, score)
		weights = append(weights, sentimentWeight)
		factors = append(factors, f...)
	}

	if cfg.ContextAnalysisEnabled {
		score, isComplex, f := scoreContext(text, words)
		scores = append(scores, score)
		weights = append(weights, contextWeight)
		factors = append(factors, f...)
		needsContext = isComplex
	}

	score := utils.WeightedConfidence(scores, weights)

	if cfg.EnablePatternDetection {
		if f := detectPatterns(normalizer, text, in, cfg); len(f) > 0 {
			factors = append(factors, f...)
			score = utils.RoundConfidence(score * patternPenalty)
		}
	}

	result := &types.AutoReviewResult{
		Factors: factors,
		Complex: needsContext,
	}

	switch {
	case score >= cfg.SincerityThreshold:
		result.Decision = enum.DecisionApprove
		result.Confidence = score
		result.Reason = "appeal reads as sincere and specific"
	case score <= cfg.RejectThreshold:
		result.Decision = enum.DecisionReject
		result.Confidence = utils.RoundConfidence(1 - score)
		result.Reason = "appeal is hostile, templated or lacks substance"
	default:
		result.Decision = enum.DecisionDefer
		result.Confidence = score
		result.Reason = "signals are mixed"
	}

	a.logger.Debug("Analyzed appeal",
		zap.String("appealID", in.Appeal.ID.String()),
		zap.String("decision", result.Decision.String()),
		zap.Float64("confidence", result.Confidence),
		zap.Strings("factors", result.Factors))

	return result
}

// degraded builds the conservative result used when scoring is impossible.
func (a *Analyzer) degraded(appeal *types.Appeal, reason string) *types.AutoReviewResult {
	a.logger.Debug("Appeal analysis degraded",
		zap.String("appealID", appeal.ID.String()),
		zap.String("reason", reason))

	return &types.AutoReviewResult{
		Decision:   enum.DecisionDefer,
		Confidence: DegradedConfidence,
		Reason:     reason,
		Factors:    []string{FactorDegraded},
		Degraded:   true,
	}
}

// scoreSentiment rates how sincere the text reads.
func scoreSentiment(text string, words []string) (float64, []string) {
	apologies := min(countDistinct(words, apologyWords), 4)
	hostility := min(countDistinct(words, hostileWords), 3)
	shouting := utils.UpperRatio(text) > 0.6 && countLetters(text) >= 10
	exclaiming := strings.Count(text, "!") >= 3

	score := 0.5 + 0.12*float64(apologies) - 0.2*float64(hostility)
	if shouting {
		score -= 0.15
	}
	if exclaiming {
		score -= 0.1
	}

	var factors []string
	if apologies >= 2 {
		factors = append(factors, FactorSincere)
	}
	if hostility > 0 {
		factors = append(factors, FactorHostile)
	}
	if shouting || exclaiming {
		factors = append(factors, FactorShouting)
	}

	return utils.RoundConfidence(score), factors
}

// scoreContext rates how specific the text is and whether a reviewer needs
// outside context to judge it.
func scoreContext(text string, words []string) (float64, bool, []string) {
	length := utf8.RuneCountInString(text)
	lengthScore := min(float64(length)/300, 1)

	refs := countDistinct(words, referenceWords)
	if strings.ContainsFunc(text, unicode.IsDigit) {
		refs++
	}
	refs = min(refs, 4)

	score := 0.3 + 0.4*lengthScore + 0.075*float64(refs)

	needsContext := length > 600 ||
		countDistinct(words, complexWords) > 0 ||
		strings.Contains(strings.ToLower(text), "http")

	var factors []string
	switch {
	case refs >= 2 && length >= 80:
		factors = append(factors, FactorDetailed)
	case refs == 0 && lengthScore < 0.2:
		factors = append(factors, FactorThin)
	}
	if needsContext {
		factors = append(factors, FactorComplex)
	}

	return utils.RoundConfidence(score), needsContext, factors
}

// detectPatterns flags templated phrases and text copied from earlier appeals.
func detectPatterns(normalizer *utils.TextNormalizer, text string, in Input, cfg config.AnalyzerConfig) []string {
	var factors []string

	phrase := normalizer.Phrase(text)
	for _, boilerplate := range cfg.BoilerplatePhrases {
		if p := normalizer.Phrase(boilerplate); p != "" && strings.Contains(phrase, p) {
			factors = append(factors, FactorBoilerplate)
			break
		}
	}

	for _, prior := range in.Prior {
		if prior.ID == in.Appeal.ID {
			continue
		}
		if normalizer.Similarity(text, prior.ReasonText) >= cfg.PatternSimilarity {
			factors = append(factors, FactorRepeated)
			break
		}
	}

	return factors
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func countDistinct(words []string, set map[string]struct{}) int {
	seen := make(map[string]struct{})
	for _, w := range words {
		if _, ok := set[w]; ok {
			seen[w] = struct{}{}
		}
	}
	return len(seen)
}

func countLetters(s string) int {
	var n int
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
