package appeal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/appeal/analyzer"
	"github.com/robalyx/arbiter/internal/appeal/decision"
	"github.com/robalyx/arbiter/internal/appeal/executor"
	"github.com/robalyx/arbiter/internal/appeal/history"
	"github.com/robalyx/arbiter/internal/appeal/router"
	"github.com/robalyx/arbiter/internal/appeal/workflow"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrActionMismatch is returned when the appellant was not the target of the action.
	ErrActionMismatch = errors.New("moderation action does not belong to the appellant")
	// ErrEmptyReason is returned when an appeal has no explanation.
	ErrEmptyReason = errors.New("appeal reason is empty")
)

// expiryTimeout bounds the persistence work done for each reaped appeal.
const expiryTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/robalyx/arbiter/internal/appeal")

// Repository persists appeals.
type Repository interface {
	// Save inserts or updates the appeal.
	Save(ctx context.Context, appeal *types.Appeal) error
	// FindByID returns types.ErrAppealNotFound when the id is unknown.
	FindByID(ctx context.Context, id uuid.UUID) (*types.Appeal, error)
	// FindByUser returns every appeal of the user within the guild.
	FindByUser(ctx context.Context, userID, guildID uint64) ([]*types.Appeal, error)
	// FindOpen returns every appeal that has not reached a terminal status.
	FindOpen(ctx context.Context) ([]*types.Appeal, error)
}

// Notifier sends best-effort notifications about appeals.
type Notifier interface {
	NotifyAppealSubmitted(ctx context.Context, appeal *types.Appeal)
	NotifyAppealDecision(ctx context.Context, appeal *types.Appeal)
	NotifyReviewers(ctx context.Context, appeal *types.Appeal, fallbackChannelID uint64)
}

// Settings supplies every per-guild parameter set.
type Settings interface {
	Analyzer(guildID uint64) config.AnalyzerConfig
	Workflow(guildID uint64) config.WorkflowConfig
	Notification(guildID uint64) config.NotificationConfig
}

// SubmitRequest is a new appeal from a user.
type SubmitRequest struct {
	UserID   uint64
	GuildID  uint64
	ActionID int64
	Reason   string
}

// SubmitResult is the state of an appeal after submission.
type SubmitResult struct {
	Appeal *types.Appeal
	// Lane is LaneNone for appeals decided automatically.
	Lane workflow.Lane
	// Position is the 1-based queue position, or zero when not queued.
	Position int
}

// StatusResult answers a status query. Found is false for unknown ids.
type StatusResult struct {
	Found    bool
	Appeal   *types.Appeal
	Lane     workflow.Lane
	Position int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the time source of the engine and its components.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMirror publishes queue snapshots to the mirror.
func WithMirror(mirror workflow.Mirror) Option {
	return func(e *Engine) {
		e.mirror = mirror
	}
}

// WithNotifier sends notifications through n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithHistoryCache caches user stats in c.
func WithHistoryCache(c history.Cache) Option {
	return func(e *Engine) {
		e.historyCache = c
	}
}

// WithModLogChannel sets the channel reviewer pings fall back to.
func WithModLogChannel(channelID uint64) Option {
	return func(e *Engine) {
		e.modLogChannelID = channelID
	}
}

// Engine runs appeals from submission to their terminal status.
type Engine struct {
	repo     Repository
	actions  executor.ActionSource
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	analyzer  *analyzer.Analyzer
	workflow  *workflow.Manager
	decisions *decision.Engine
	executor  *executor.Executor
	history   *history.Tracker

	notifier        Notifier
	mirror          workflow.Mirror
	historyCache    history.Cache
	modLogChannelID uint64
}

// New creates an Engine.
func New(repo Repository, actions executor.ActionSource, settings Settings, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		actions:  actions,
		settings: settings,
		logger:   logger.Named("appeal_engine"),
		now:      time.Now,
		notifier: noopNotifier{},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.analyzer = analyzer.New(logger)
	e.workflow = workflow.NewManager(settings, logger,
		workflow.WithClock(e.now),
		workflow.WithMirror(metricsMirror{next: e.mirror}),
		workflow.WithExpiryHandler(e.onExpire))
	e.executor = executor.New(actions, settings, logger, executor.WithClock(e.now))
	e.decisions = decision.NewEngine(e.workflow, e.executor, logger, decision.WithClock(e.now))
	e.history = history.NewTracker(repo, e.historyCache, logger)

	return e
}

// Start begins the expiry reaper.
func (e *Engine) Start(ctx context.Context) {
	e.workflow.Start(ctx)
}

// Stop ends the expiry reaper.
func (e *Engine) Stop() {
	e.workflow.Stop()
}

// SubmitAppeal files an appeal against a moderation action, analyses it and
// either decides it automatically or queues it for review.
func (e *Engine) SubmitAppeal(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "appeal.SubmitAppeal")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", strconv.FormatUint(req.UserID, 10)),
		attribute.String("guild.id", strconv.FormatUint(req.GuildID, 10)),
		attribute.Int64("action.id", req.ActionID),
	)

	if strings.TrimSpace(req.Reason) == "" {
		return nil, ErrEmptyReason
	}

	action, err := e.actions.Action(ctx, req.ActionID)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to load moderation action: %w (actionID=%d)", err, req.ActionID))
	}
	if action.GuildID != req.GuildID || action.TargetID != req.UserID {
		return nil, fmt.Errorf("%w (actionID=%d, userID=%d, guildID=%d)",
			ErrActionMismatch, req.ActionID, req.UserID, req.GuildID)
	}

	now := e.now()
	appeal := &types.Appeal{
		ID:          uuid.New(),
		UserID:      req.UserID,
		GuildID:     req.GuildID,
		ActionID:    req.ActionID,
		Action:      *action,
		Status:      enum.AppealStatusPendingAnalysis,
		ReasonText:  strings.TrimSpace(req.Reason),
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	if err := e.workflow.Track(appeal); err != nil {
		return nil, err
	}

	if err := e.repo.Save(ctx, appeal); err != nil {
		e.workflow.Untrack(appeal.ID)
		return nil, spanError(span, fmt.Errorf("failed to save appeal: %w (appealID=%s)", err, appeal.ID))
	}

	if _, err := e.history.Opened(ctx, appeal); err != nil {
		e.logger.Warn("Failed to update appeal history",
			zap.String("appealID", appeal.ID.String()),
			zap.Error(err))
	}

	e.logger.Info("Appeal submitted",
		zap.String("appealID", appeal.ID.String()),
		zap.Uint64("userID", appeal.UserID),
		zap.Uint64("guildID", appeal.GuildID),
		zap.Int64("actionID", appeal.ActionID),
		zap.String("actionType", appeal.Action.Type.String()))

	e.notifier.NotifyAppealSubmitted(ctx, appeal)

	result, err := e.process(ctx, appeal)
	if err != nil {
		return nil, spanError(span, err)
	}

	span.SetAttributes(
		attribute.String("appeal.id", appeal.ID.String()),
		attribute.String("appeal.path", result.Appeal.ProcessingPath.String()),
		attribute.String("appeal.status", result.Appeal.Status.String()),
	)

	return result, nil
}

// process analyses and routes an appeal in PENDING_ANALYSIS.
func (e *Engine) process(ctx context.Context, appeal *types.Appeal) (*SubmitResult, error) {
	prior, historyAvailable := e.priorAppeals(ctx, appeal)

	analyzerCfg := e.settings.Analyzer(appeal.GuildID)
	result := e.analyzer.Analyze(ctx, analyzer.Input{
		Appeal:           appeal,
		Prior:            prior,
		HistoryAvailable: historyAvailable,
	}, analyzerCfg)

	path := router.Route(appeal, result, history.ComputeStats(appeal.UserID, appeal.GuildID, prior), router.Policy{
		Workflow:           e.settings.Workflow(appeal.GuildID),
		SincerityThreshold: analyzerCfg.SincerityThreshold,
	})

	appealsSubmitted.WithLabelValues(path.String()).Inc()

	e.logger.Debug("Appeal analysed",
		zap.String("appealID", appeal.ID.String()),
		zap.String("decision", result.Decision.String()),
		zap.Float64("confidence", result.Confidence),
		zap.Strings("factors", result.Factors),
		zap.Bool("degraded", result.Degraded),
		zap.String("path", path.String()))

	if path == enum.ProcessingPathAutoReview {
		decided, err := e.decide(ctx, appeal.ID, decision.Auto(result))
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Appeal: decided.Appeal, Lane: workflow.LaneNone}, nil
	}

	queued, lane, err := e.workflow.Enqueue(appeal.ID, path, result)
	if err != nil {
		return nil, err
	}

	if err := e.repo.Save(ctx, queued); err != nil {
		e.workflow.Rollback(queued.ID)
		return nil, fmt.Errorf("failed to save queued appeal: %w (appealID=%s)", err, queued.ID)
	}

	e.notifier.NotifyReviewers(ctx, queued, e.modLogChannelID)

	_, position := e.workflow.Snapshot().Position(queued.ID)
	return &SubmitResult{Appeal: queued, Lane: lane, Position: position}, nil
}

// priorAppeals loads the user's other appeals in the guild.
func (e *Engine) priorAppeals(ctx context.Context, appeal *types.Appeal) ([]*types.Appeal, bool) {
	appeals, err := e.repo.FindByUser(ctx, appeal.UserID, appeal.GuildID)
	if err != nil {
		e.logger.Warn("Failed to load appeal history, analysing without it",
			zap.String("appealID", appeal.ID.String()),
			zap.Error(err))
		return nil, false
	}

	prior := make([]*types.Appeal, 0, len(appeals))
	for _, a := range appeals {
		if a.ID != appeal.ID {
			prior = append(prior, a)
		}
	}
	return prior, true
}

// GetStatus returns the current state of an appeal. Unknown ids give a
// result with Found set to false.
func (e *Engine) GetStatus(ctx context.Context, id uuid.UUID) (StatusResult, error) {
	if live, ok := e.workflow.Get(id); ok {
		lane, position := e.workflow.Snapshot().Position(id)
		return StatusResult{Found: true, Appeal: live, Lane: lane, Position: position}, nil
	}

	appeal, err := e.repo.FindByID(ctx, id)
	if errors.Is(err, types.ErrAppealNotFound) {
		return StatusResult{Found: false}, nil
	}
	if err != nil {
		return StatusResult{}, fmt.Errorf("failed to load appeal: %w (appealID=%s)", err, id)
	}

	return StatusResult{Found: true, Appeal: appeal}, nil
}

// ClaimNext assigns the next waiting appeal to the reviewer. It returns
// workflow.ErrQueueEmpty right away when nothing is waiting.
func (e *Engine) ClaimNext(ctx context.Context, reviewerID uint64) (*types.Appeal, error) {
	claimed, err := e.workflow.ClaimNext(reviewerID)
	if err != nil {
		return nil, err
	}
	return e.saveClaim(ctx, claimed)
}

// ClaimAppeal assigns a specific waiting appeal to the reviewer.
func (e *Engine) ClaimAppeal(ctx context.Context, id uuid.UUID, reviewerID uint64) (*types.Appeal, error) {
	claimed, err := e.workflow.Claim(id, reviewerID)
	if err != nil {
		if errors.Is(err, types.ErrClaimConflict) {
			claimConflicts.Inc()
		}
		return nil, err
	}
	return e.saveClaim(ctx, claimed)
}

// saveClaim persists a claim, handing the appeal back to its lane when the
// save fails.
func (e *Engine) saveClaim(ctx context.Context, claimed *types.Appeal) (*types.Appeal, error) {
	if err := e.repo.Save(ctx, claimed); err != nil {
		e.workflow.Rollback(claimed.ID)
		return nil, fmt.Errorf("failed to save claim: %w (appealID=%s)", err, claimed.ID)
	}

	e.logger.Info("Appeal claimed",
		zap.String("appealID", claimed.ID.String()),
		zap.Uint64("reviewerID", claimed.ReviewClaimedBy),
		zap.String("path", claimed.ProcessingPath.String()))

	return claimed, nil
}

// SubmitHumanDecision records the claimant's decision and executes it.
func (e *Engine) SubmitHumanDecision(
	ctx context.Context, id uuid.UUID, reviewerID uint64, d enum.Decision, notes string,
) (*decision.Result, error) {
	return e.decide(ctx, id, decision.Human(reviewerID, d, notes))
}

// decide runs a decision and its follow-up bookkeeping.
func (e *Engine) decide(ctx context.Context, id uuid.UUID, src decision.Source) (*decision.Result, error) {
	result, err := e.decisions.Decide(ctx, id, src)
	if err != nil {
		return nil, err
	}

	appealsDecided.WithLabelValues(src.Kind().String(), result.Appeal.Status.String()).Inc()
	executionOutcomes.WithLabelValues(result.Execution.Outcome.String()).Inc()

	if err := e.finalize(ctx, result.Appeal); err != nil {
		return nil, err
	}

	return result, nil
}

// CancelAppeal withdraws an appeal for the appellant or the claiming
// reviewer. A refused cancellation returns false without an error.
func (e *Engine) CancelAppeal(ctx context.Context, id uuid.UUID, requesterID uint64) (bool, error) {
	cancelled, err := e.workflow.Cancel(id, requesterID)
	if err != nil {
		if errors.Is(err, workflow.ErrCancelForbidden) ||
			errors.Is(err, types.ErrInvalidTransition) ||
			errors.Is(err, types.ErrAppealNotFound) {
			e.logger.Debug("Refused appeal cancellation",
				zap.String("appealID", id.String()),
				zap.Uint64("requesterID", requesterID),
				zap.Error(err))
			return false, nil
		}
		return false, err
	}

	if err := e.finalize(ctx, cancelled); err != nil {
		return true, err
	}

	return true, nil
}

// RetryExecution runs a failed execution again for a decided appeal.
func (e *Engine) RetryExecution(ctx context.Context, id uuid.UUID) (*types.ExecutionResult, error) {
	appeal, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load appeal: %w (appealID=%s)", err, id)
	}

	if !appeal.Status.IsDecided() {
		return nil, fmt.Errorf("%w: appeal in %s has no decision to execute (appealID=%s)",
			types.ErrInvalidTransition, appeal.Status, id)
	}

	result := e.executor.Retry(ctx, appeal)
	if result == appeal.Execution {
		return result, nil
	}

	executionOutcomes.WithLabelValues(result.Outcome.String()).Inc()

	appeal.Execution = result
	appeal.UpdatedAt = e.now()
	if err := e.repo.Save(ctx, appeal); err != nil {
		return nil, fmt.Errorf("failed to save execution result: %w (appealID=%s)", err, id)
	}

	return result, nil
}

// Restore reloads every open appeal after a restart. Queued and claimed
// appeals rejoin the workflow and appeals interrupted during analysis are
// analysed again.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	open, err := e.repo.FindOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load open appeals: %w", err)
	}

	restored := 0
	for _, appeal := range open {
		if appeal.Status == enum.AppealStatusPendingAnalysis {
			if err := e.workflow.Track(appeal); err != nil {
				e.logger.Warn("Skipped appeal during restore",
					zap.String("appealID", appeal.ID.String()),
					zap.Error(err))
				continue
			}
			if _, err := e.process(ctx, appeal); err != nil {
				return restored, fmt.Errorf("failed to analyse restored appeal: %w (appealID=%s)", err, appeal.ID)
			}
			restored++
			continue
		}

		if err := e.workflow.Restore(appeal); err != nil {
			e.logger.Warn("Skipped appeal during restore",
				zap.String("appealID", appeal.ID.String()),
				zap.Error(err))
			continue
		}
		restored++
	}

	e.logger.Info("Restored open appeals",
		zap.Int("restored", restored),
		zap.Int("loaded", len(open)),
		zap.Int("queued", e.workflow.Size()),
		zap.Int("inFlight", e.workflow.InFlight()))

	return restored, nil
}

// ReapExpired runs one expiry sweep immediately.
func (e *Engine) ReapExpired() []*types.Appeal {
	return e.workflow.ReapExpired()
}

// QueueSnapshot returns the current lane state.
func (e *Engine) QueueSnapshot() workflow.Snapshot {
	return e.workflow.Snapshot()
}

// History returns the user's appeals in the guild with their aggregate.
func (e *Engine) History(ctx context.Context, userID, guildID uint64) (*types.UserAppealHistory, error) {
	return e.history.History(ctx, userID, guildID)
}

// Stats returns the user's aggregate in the guild.
func (e *Engine) Stats(ctx context.Context, userID, guildID uint64) (types.UserAppealStats, error) {
	return e.history.Stats(ctx, userID, guildID)
}

// onExpire persists appeals expired by the reaper.
func (e *Engine) onExpire(appeal *types.Appeal) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()

	if err := e.finalize(ctx, appeal); err != nil {
		e.logger.Error("Failed to record expired appeal",
			zap.String("appealID", appeal.ID.String()),
			zap.Error(err))
	}
}

// finalize persists a terminal appeal, updates the user's history and tells
// the appellant.
func (e *Engine) finalize(ctx context.Context, appeal *types.Appeal) error {
	appealsClosed.WithLabelValues(appeal.Status.String()).Inc()

	if err := e.repo.Save(ctx, appeal); err != nil {
		return fmt.Errorf("failed to save closed appeal: %w (appealID=%s)", err, appeal.ID)
	}

	if _, err := e.history.Record(ctx, appeal); err != nil {
		e.logger.Warn("Failed to update appeal history",
			zap.String("appealID", appeal.ID.String()),
			zap.Error(err))
	}

	e.notifier.NotifyAppealDecision(ctx, appeal)

	e.logger.Info("Appeal closed",
		zap.String("appealID", appeal.ID.String()),
		zap.String("status", appeal.Status.String()))

	return nil
}

// spanError records err on the span and returns it.
func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// metricsMirror updates the lane gauges before handing snapshots on.
type metricsMirror struct {
	next workflow.Mirror
}

func (m metricsMirror) Publish(snap workflow.Snapshot) {
	laneDepth.WithLabelValues(workflow.LanePriority.String()).Set(float64(len(snap.Priority)))
	laneDepth.WithLabelValues(workflow.LaneRegular.String()).Set(float64(len(snap.Regular)))
	reviewsInFlight.Set(float64(snap.UnderReview))

	if m.next != nil {
		m.next.Publish(snap)
	}
}

type noopNotifier struct{}

func (noopNotifier) NotifyAppealSubmitted(context.Context, *types.Appeal) {}

func (noopNotifier) NotifyAppealDecision(context.Context, *types.Appeal) {}

func (noopNotifier) NotifyReviewers(context.Context, *types.Appeal, uint64) {}
