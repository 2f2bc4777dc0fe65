package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	// ErrNotClaimant is returned when a reviewer decides an appeal claimed by someone else.
	ErrNotClaimant = errors.New("reviewer does not hold the claim on this appeal")
	// ErrInvalidDecision is returned for decisions that do not resolve an appeal.
	ErrInvalidDecision = errors.New("decision must approve or reject")
	// ErrAlreadyReviewed is returned when an appeal already carries a review.
	ErrAlreadyReviewed = errors.New("appeal already has a review")
)

var tracer = otel.Tracer("github.com/robalyx/arbiter/internal/appeal/decision")

// Source identifies who decided an appeal. Build one with Auto or Human.
type Source struct {
	kind       enum.DecisionSourceKind
	analysis   *types.AutoReviewResult
	reviewerID uint64
	decision   enum.Decision
	notes      string
}

// Auto is a decision taken from the analyzer's result.
func Auto(result *types.AutoReviewResult) Source {
	s := Source{kind: enum.DecisionSourceAuto, analysis: result}
	if result != nil {
		s.decision = result.Decision
		s.notes = result.Reason
	}
	return s
}

// Human is a decision submitted by a reviewer.
func Human(reviewerID uint64, decision enum.Decision, notes string) Source {
	return Source{
		kind:       enum.DecisionSourceHuman,
		reviewerID: reviewerID,
		decision:   decision,
		notes:      notes,
	}
}

// Kind returns which variant the source holds.
func (s Source) Kind() enum.DecisionSourceKind { return s.kind }

// Decision returns the decision carried by the source.
func (s Source) Decision() enum.Decision { return s.decision }

// ReviewerID returns the deciding reviewer, or zero for the system.
func (s Source) ReviewerID() uint64 { return s.reviewerID }

// Analysis returns the analyzer result of an automatic decision.
func (s Source) Analysis() *types.AutoReviewResult { return s.analysis }

// expectedStatus is the only status each variant may decide from.
func (s Source) expectedStatus() enum.AppealStatus {
	if s.kind == enum.DecisionSourceAuto {
		return enum.AppealStatusPendingAnalysis
	}
	return enum.AppealStatusUnderReview
}

// Transitioner performs guarded status changes on live appeals.
type Transitioner interface {
	Apply(
		id uuid.UUID, to enum.AppealStatus, guard func(*types.Appeal) error, mutate func(*types.Appeal),
	) (*types.Appeal, error)
}

// Executor applies a decided appeal.
type Executor interface {
	Execute(ctx context.Context, appeal *types.Appeal) *types.ExecutionResult
}

// Result is a completed decision: the decided appeal with its review and
// the outcome of applying it.
type Result struct {
	Appeal    *types.Appeal
	Review    *types.AppealReview
	Execution *types.ExecutionResult
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine turns an automatic or human decision into a terminal status and
// runs the executor for it.
type Engine struct {
	transitions Transitioner
	executor    Executor
	logger      *zap.Logger
	now         func() time.Time
}

// NewEngine creates a decision engine.
func NewEngine(transitions Transitioner, executor Executor, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		transitions: transitions,
		executor:    executor,
		logger:      logger.Named("decision"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide validates the source against the appeal, attaches the review,
// moves the appeal to APPROVED or REJECTED and executes the decision.
// A refused decision returns a typed error and leaves the appeal untouched.
// Execution runs after the status change, outside any workflow lock.
func (e *Engine) Decide(ctx context.Context, appealID uuid.UUID, src Source) (*Result, error) {
	ctx, span := tracer.Start(ctx, "decision.Decide")
	defer span.End()

	span.SetAttributes(
		attribute.String("appeal.id", appealID.String()),
		attribute.String("decision.source", src.Kind().String()),
		attribute.String("decision", src.Decision().String()),
	)

	to, ok := src.Decision().Status()
	if !ok {
		return nil, fmt.Errorf("%w: got %s (appealID=%s)", ErrInvalidDecision, src.Decision(), appealID)
	}
	if src.Kind() == enum.DecisionSourceAuto && src.Analysis() == nil {
		return nil, fmt.Errorf("%w: automatic decision without analysis (appealID=%s)", ErrInvalidDecision, appealID)
	}

	review := &types.AppealReview{
		ReviewerID: src.ReviewerID(),
		Decision:   src.Decision(),
		Notes:      src.notes,
		ReviewedAt: e.now(),
	}

	decided, err := e.transitions.Apply(appealID, to, func(a *types.Appeal) error {
		return e.check(a, src)
	}, func(a *types.Appeal) {
		a.Review = review
		if src.Kind() == enum.DecisionSourceAuto {
			a.Analysis = src.Analysis()
			a.ProcessingPath = enum.ProcessingPathAutoReview
		}
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Appeal decided",
		zap.String("appealID", appealID.String()),
		zap.String("source", src.Kind().String()),
		zap.Uint64("reviewerID", src.ReviewerID()),
		zap.String("status", decided.Status.String()))

	execution := e.executor.Execute(ctx, decided)
	decided.Execution = execution

	span.SetAttributes(attribute.String("execution.outcome", execution.Outcome.String()))

	return &Result{
		Appeal:    decided,
		Review:    review,
		Execution: execution,
	}, nil
}

// check validates the appeal's current state for the source.
func (e *Engine) check(a *types.Appeal, src Source) error {
	if a.Review != nil {
		return fmt.Errorf("%w (appealID=%s)", ErrAlreadyReviewed, a.ID)
	}

	if expected := src.expectedStatus(); a.Status != expected {
		return fmt.Errorf("%w: %s decision requires %s, appeal is %s (appealID=%s)",
			types.ErrInvalidTransition, src.Kind(), expected, a.Status, a.ID)
	}

	if src.Kind() == enum.DecisionSourceHuman && a.ReviewClaimedBy != src.ReviewerID() {
		return fmt.Errorf("%w (appealID=%s, reviewerID=%d, claimedBy=%d)",
			ErrNotClaimant, a.ID, src.ReviewerID(), a.ReviewClaimedBy)
	}

	return nil
}
