package enum

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDecision is returned when a decision name cannot be parsed.
var ErrUnknownDecision = errors.New("unknown decision")

// Descriptor holds the presentation details for an enum tag.
// Tags themselves carry no display text; views look them up here.
type Descriptor struct {
	Label string
	Glyph string
}

// AppealStatus represents the lifecycle status of an appeal.
type AppealStatus int

const (
	// AppealStatusPendingAnalysis is the initial status before the analyzer runs.
	AppealStatusPendingAnalysis AppealStatus = iota
	// AppealStatusPendingReview means the appeal waits in a review lane.
	AppealStatusPendingReview
	// AppealStatusUnderReview means a reviewer holds the claim.
	AppealStatusUnderReview
	// AppealStatusApproved means the appeal was granted.
	AppealStatusApproved
	// AppealStatusRejected means the original action was upheld.
	AppealStatusRejected
	// AppealStatusExpired means nobody decided before the review timeout.
	AppealStatusExpired
	// AppealStatusCancelled means the appeal was withdrawn.
	AppealStatusCancelled
)

var appealStatusDescriptors = map[AppealStatus]Descriptor{
	AppealStatusPendingAnalysis: {Label: "Pending Analysis", Glyph: "🔎"},
	AppealStatusPendingReview:   {Label: "Pending Review", Glyph: "⏳"},
	AppealStatusUnderReview:     {Label: "Under Review", Glyph: "👀"},
	AppealStatusApproved:        {Label: "Approved", Glyph: "✅"},
	AppealStatusRejected:        {Label: "Rejected", Glyph: "❌"},
	AppealStatusExpired:         {Label: "Expired", Glyph: "⌛"},
	AppealStatusCancelled:       {Label: "Cancelled", Glyph: "🚫"},
}

// appealTransitions lists every permitted status change.
// Anything not present here is an invalid transition.
var appealTransitions = map[AppealStatus]map[AppealStatus]bool{
	AppealStatusPendingAnalysis: {
		AppealStatusPendingReview: true,
		AppealStatusApproved:      true,
		AppealStatusRejected:      true,
	},
	AppealStatusPendingReview: {
		AppealStatusUnderReview: true,
		AppealStatusExpired:     true,
		AppealStatusCancelled:   true,
	},
	AppealStatusUnderReview: {
		AppealStatusApproved:  true,
		AppealStatusRejected:  true,
		AppealStatusExpired:   true,
		AppealStatusCancelled: true,
	},
}

// AppealStatuses returns every status value in declaration order.
func AppealStatuses() []AppealStatus {
	return []AppealStatus{
		AppealStatusPendingAnalysis,
		AppealStatusPendingReview,
		AppealStatusUnderReview,
		AppealStatusApproved,
		AppealStatusRejected,
		AppealStatusExpired,
		AppealStatusCancelled,
	}
}

// OpenAppealStatuses returns the statuses that still accept transitions.
func OpenAppealStatuses() []AppealStatus {
	return []AppealStatus{
		AppealStatusPendingAnalysis,
		AppealStatusPendingReview,
		AppealStatusUnderReview,
	}
}

// Describe returns the presentation descriptor for the status.
func (s AppealStatus) Describe() Descriptor {
	if d, ok := appealStatusDescriptors[s]; ok {
		return d
	}
	return Descriptor{Label: "Unknown", Glyph: "❔"}
}

// String implements fmt.Stringer.
func (s AppealStatus) String() string {
	if d, ok := appealStatusDescriptors[s]; ok {
		return strings.ReplaceAll(d.Label, " ", "")
	}
	return fmt.Sprintf("AppealStatus(%d)", int(s))
}

// IsTerminal reports whether no further transitions are possible.
func (s AppealStatus) IsTerminal() bool {
	switch s {
	case AppealStatusApproved, AppealStatusRejected, AppealStatusExpired, AppealStatusCancelled:
		return true
	case AppealStatusPendingAnalysis, AppealStatusPendingReview, AppealStatusUnderReview:
		return false
	}
	return false
}

// IsDecided reports whether the status carries a review decision.
func (s AppealStatus) IsDecided() bool {
	return s == AppealStatusApproved || s == AppealStatusRejected
}

// CanTransition reports whether moving from s to next is a permitted edge.
func (s AppealStatus) CanTransition(next AppealStatus) bool {
	return appealTransitions[s][next]
}

// ProcessingPath is the routing classification of an appeal.
// It is a hint for lane selection only and never implies a status.
type ProcessingPath int

const (
	// ProcessingPathUnrouted is the zero value before routing.
	ProcessingPathUnrouted ProcessingPath = iota
	// ProcessingPathAutoReview decides the appeal without a human.
	ProcessingPathAutoReview
	// ProcessingPathManualReview queues the appeal in the regular lane.
	ProcessingPathManualReview
	// ProcessingPathPriorityReview queues the appeal in the priority lane.
	ProcessingPathPriorityReview
	// ProcessingPathEscalatedReview queues a repeat appellant in the priority lane.
	ProcessingPathEscalatedReview
	// ProcessingPathFastTrack queues a simple appeal ahead of manual reviews.
	ProcessingPathFastTrack
)

var processingPathDescriptors = map[ProcessingPath]Descriptor{
	ProcessingPathUnrouted:        {Label: "Unrouted", Glyph: "❔"},
	ProcessingPathAutoReview:      {Label: "Auto Review", Glyph: "🤖"},
	ProcessingPathManualReview:    {Label: "Manual Review", Glyph: "🧑‍⚖️"},
	ProcessingPathPriorityReview:  {Label: "Priority Review", Glyph: "🔺"},
	ProcessingPathEscalatedReview: {Label: "Escalated Review", Glyph: "📣"},
	ProcessingPathFastTrack:       {Label: "Fast Track", Glyph: "⚡"},
}

// Describe returns the presentation descriptor for the path.
func (p ProcessingPath) Describe() Descriptor {
	if d, ok := processingPathDescriptors[p]; ok {
		return d
	}
	return Descriptor{Label: "Unknown", Glyph: "❔"}
}

// String implements fmt.Stringer.
func (p ProcessingPath) String() string {
	if d, ok := processingPathDescriptors[p]; ok {
		return strings.ReplaceAll(d.Label, " ", "")
	}
	return fmt.Sprintf("ProcessingPath(%d)", int(p))
}

// IsHumanReviewed reports whether the path ends in a review lane.
func (p ProcessingPath) IsHumanReviewed() bool {
	return p != ProcessingPathAutoReview && p != ProcessingPathUnrouted
}

// Decision is the outcome recommended by the analyzer or chosen by a reviewer.
type Decision int

const (
	// DecisionDefer means no decision could be reached.
	DecisionDefer Decision = iota
	// DecisionApprove grants the appeal.
	DecisionApprove
	// DecisionReject upholds the original action.
	DecisionReject
)

var decisionDescriptors = map[Decision]Descriptor{
	DecisionDefer:   {Label: "Defer", Glyph: "⏸️"},
	DecisionApprove: {Label: "Approve", Glyph: "✅"},
	DecisionReject:  {Label: "Reject", Glyph: "❌"},
}

// Describe returns the presentation descriptor for the decision.
func (d Decision) Describe() Descriptor {
	if desc, ok := decisionDescriptors[d]; ok {
		return desc
	}
	return Descriptor{Label: "Unknown", Glyph: "❔"}
}

// String implements fmt.Stringer.
func (d Decision) String() string {
	if desc, ok := decisionDescriptors[d]; ok {
		return desc.Label
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// IsFinal reports whether the decision resolves an appeal.
func (d Decision) IsFinal() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Status returns the terminal status a final decision leads to.
func (d Decision) Status() (AppealStatus, bool) {
	switch d {
	case DecisionApprove:
		return AppealStatusApproved, true
	case DecisionReject:
		return AppealStatusRejected, true
	case DecisionDefer:
		return 0, false
	}
	return 0, false
}

// ParseDecision converts user input such as "approve" or "reject" into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved", "accept", "accepted":
		return DecisionApprove, nil
	case "reject", "rejected", "deny", "denied":
		return DecisionReject, nil
	case "defer":
		return DecisionDefer, nil
	}
	return DecisionDefer, fmt.Errorf("%w: %q", ErrUnknownDecision, s)
}

// DecisionSourceKind tells whether a decision came from the analyzer or a person.
type DecisionSourceKind int

const (
	// DecisionSourceAuto is a decision made from an AutoReviewResult.
	DecisionSourceAuto DecisionSourceKind = iota
	// DecisionSourceHuman is a decision submitted by a reviewer.
	DecisionSourceHuman
)

// String implements fmt.Stringer.
func (k DecisionSourceKind) String() string {
	switch k {
	case DecisionSourceAuto:
		return "auto"
	case DecisionSourceHuman:
		return "human"
	}
	return fmt.Sprintf("DecisionSourceKind(%d)", int(k))
}

// ExecutionOutcome tags the variant held by an execution result.
type ExecutionOutcome int

const (
	// ExecutionOutcomeSuccess means one or more actions were applied.
	ExecutionOutcomeSuccess ExecutionOutcome = iota
	// ExecutionOutcomeNoAction means nothing needed to be applied.
	ExecutionOutcomeNoAction
	// ExecutionOutcomeError means the moderation subsystem call failed.
	ExecutionOutcomeError
)

// String implements fmt.Stringer.
func (o ExecutionOutcome) String() string {
	switch o {
	case ExecutionOutcomeSuccess:
		return "success"
	case ExecutionOutcomeNoAction:
		return "no_action"
	case ExecutionOutcomeError:
		return "error"
	}
	return fmt.Sprintf("ExecutionOutcome(%d)", int(o))
}
