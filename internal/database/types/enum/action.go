package enum

import (
	"fmt"
	"strings"
)

// Severity ranks how heavy a moderation action is.
type Severity int

const (
	// SeverityLow covers warnings and message deletions.
	SeverityLow Severity = iota
	// SeverityMedium covers timeouts and role removals.
	SeverityMedium
	// SeverityHigh covers kicks.
	SeverityHigh
	// SeverityBan covers bans and anything heavier.
	SeverityBan
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityBan:
		return "Ban"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ActionType is the kind of moderation action an appeal disputes.
type ActionType int

const (
	// ActionTypeWarn is a formal warning.
	ActionTypeWarn ActionType = iota
	// ActionTypeDeleteMessage is a removed message.
	ActionTypeDeleteMessage
	// ActionTypeTimeout is a communication timeout (mute).
	ActionTypeTimeout
	// ActionTypeRoleRemove is a role taken away from the member.
	ActionTypeRoleRemove
	// ActionTypeKick is a removal from the guild.
	ActionTypeKick
	// ActionTypeBan is a guild ban.
	ActionTypeBan
)

// ActionDescriptor holds the presentation and policy details of an action type.
type ActionDescriptor struct {
	Label    string
	Glyph    string
	Severity Severity
	// Reversal is the action id recorded when the action is undone.
	// Empty means the action cannot be reversed.
	Reversal string
}

var actionDescriptors = map[ActionType]ActionDescriptor{
	ActionTypeWarn:          {Label: "Warning", Glyph: "⚠️", Severity: SeverityLow, Reversal: "clear_warning"},
	ActionTypeDeleteMessage: {Label: "Message Deletion", Glyph: "🗑️", Severity: SeverityLow},
	ActionTypeTimeout:       {Label: "Timeout", Glyph: "🔇", Severity: SeverityMedium, Reversal: "lift_timeout"},
	ActionTypeRoleRemove:    {Label: "Role Removal", Glyph: "🏷️", Severity: SeverityMedium, Reversal: "restore_role"},
	ActionTypeKick:          {Label: "Kick", Glyph: "👢", Severity: SeverityHigh},
	ActionTypeBan:           {Label: "Ban", Glyph: "🔨", Severity: SeverityBan, Reversal: "unban"},
}

// Describe returns the descriptor for the action type.
func (a ActionType) Describe() ActionDescriptor {
	if d, ok := actionDescriptors[a]; ok {
		return d
	}
	return ActionDescriptor{Label: "Unknown", Glyph: "❔", Severity: SeverityBan}
}

// String implements fmt.Stringer.
func (a ActionType) String() string {
	if d, ok := actionDescriptors[a]; ok {
		return strings.ReplaceAll(d.Label, " ", "")
	}
	return fmt.Sprintf("ActionType(%d)", int(a))
}

// Severity returns how heavy the action is. Unknown types rank as bans.
func (a ActionType) Severity() Severity {
	return a.Describe().Severity
}

// IsReversible reports whether approving an appeal can undo the action.
func (a ActionType) IsReversible() bool {
	return a.Describe().Reversal != ""
}
