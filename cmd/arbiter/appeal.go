package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/appeal/workflow"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup"
	"github.com/robalyx/arbiter/internal/setup/telemetry"
	"github.com/urfave/cli/v3"
)

// CLILogDir specifies where command line log files are stored.
const CLILogDir = "logs/cli_logs"

var (
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)              //nolint:gochecknoglobals // -
	headingStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)           //nolint:gochecknoglobals // -
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240")) //nolint:gochecknoglobals // -
)

var (
	ErrAppealIDRequired   = errors.New("APPEAL_ID argument required")
	ErrUserGuildRequired  = errors.New("USER_ID and GUILD_ID arguments required")
	ErrAppealDoesNotExist = errors.New("appeal not found")
)

func appealCommand() *cli.Command {
	return &cli.Command{
		Name:  "appeal",
		Usage: "Inspect and repair appeals",
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "Show the state of an appeal",
				ArgsUsage: "APPEAL_ID",
				Action:    withApp(appealStatus),
			},
			{
				Name:      "history",
				Usage:     "Show a user's appeals in a guild",
				ArgsUsage: "USER_ID GUILD_ID",
				Action:    withApp(appealHistory),
			},
			{
				Name:   "queue",
				Usage:  "Show the review lanes as last published by the worker",
				Action: withApp(appealQueue),
			},
			{
				Name:   "summary",
				Usage:  "Count stored appeals by status",
				Action: withApp(appealSummary),
			},
			{
				Name:      "retry",
				Usage:     "Run a failed execution of a decided appeal again",
				ArgsUsage: "APPEAL_ID",
				Action:    withApp(appealRetry),
			},
		},
	}
}

// appFunc runs against an initialized application.
type appFunc func(ctx context.Context, c *cli.Command, app *setup.App) error

// withApp initializes the application for the duration of one command.
func withApp(fn appFunc) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		app, err := setup.InitializeApp(ctx, telemetry.ServiceCLI, CLILogDir, false)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer app.Cleanup(ctx)

		return fn(ctx, c, app)
	}
}

func appealStatus(ctx context.Context, c *cli.Command, app *setup.App) error {
	if c.Args().Len() != 1 {
		return ErrAppealIDRequired
	}

	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid appeal id: %w", err)
	}

	result, err := app.Engine.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if !result.Found {
		return fmt.Errorf("%w: %s", ErrAppealDoesNotExist, id)
	}

	var b strings.Builder
	writeAppeal(&b, result.Appeal)

	pos, ok, err := app.QueueReader.Position(ctx, id)
	switch {
	case err != nil:
		writeField(&b, "Queue", dimStyle.Render(fmt.Sprintf("unavailable (%v)", err)))
	case ok:
		writeField(&b, "Queue", fmt.Sprintf("%s lane, %d of %d", pos.Lane, pos.Position, pos.LaneSize))
	case result.Lane != workflow.LaneNone:
		writeField(&b, "Queue", fmt.Sprintf("%s lane, %d", result.Lane, result.Position))
	}

	fmt.Print(b.String())
	return nil
}

func appealHistory(ctx context.Context, c *cli.Command, app *setup.App) error {
	if c.Args().Len() != 2 {
		return ErrUserGuildRequired
	}

	userID, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}

	guildID, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid guild id: %w", err)
	}

	history, err := app.Engine.History(ctx, userID, guildID)
	if err != nil {
		return err
	}

	var b strings.Builder
	stats := history.Stats
	writeField(&b, "Total", strconv.Itoa(stats.Total))
	writeField(&b, "Approved", strconv.Itoa(stats.Approved))
	writeField(&b, "Rejected", strconv.Itoa(stats.Rejected))
	writeField(&b, "Pending", strconv.Itoa(stats.Pending))
	writeField(&b, "Expired", strconv.Itoa(stats.Expired))
	writeField(&b, "Cancelled", strconv.Itoa(stats.Cancelled))
	writeField(&b, "Approval rate", fmt.Sprintf("%.0f%%", stats.ApprovalRate*100))

	rows := make([][]string, 0, len(history.Appeals))
	for _, a := range history.Appeals {
		rows = append(rows, []string{
			a.ID.String(),
			a.Action.Type.String(),
			a.Status.String(),
			a.ProcessingPath.String(),
			a.SubmittedAt.Format(time.RFC3339),
		})
	}

	fmt.Print(b.String())
	fmt.Println(table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "ACTION", "STATUS", "PATH", "SUBMITTED").
		Rows(rows...))
	return nil
}

func appealQueue(ctx context.Context, _ *cli.Command, app *setup.App) error {
	version, err := app.QueueReader.Version(ctx)
	if err != nil {
		return err
	}

	fmt.Println(labelStyle.Render("Version") + strconv.FormatUint(version, 10))

	for _, lane := range []workflow.Lane{workflow.LanePriority, workflow.LaneRegular} {
		ids, err := app.QueueReader.LaneIDs(ctx, lane)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(ids))
		for i, id := range ids {
			rows = append(rows, []string{strconv.Itoa(i + 1), id})
		}

		fmt.Println(headingStyle.Render(fmt.Sprintf("%s (%d)", lane, len(ids))))
		fmt.Println(table.New().
			Border(lipgloss.NormalBorder()).
			Headers("#", "APPEAL").
			Rows(rows...))
	}

	return nil
}

func appealSummary(ctx context.Context, _ *cli.Command, app *setup.App) error {
	counts, err := app.DB.Model().Appeal().CountByStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Println(table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STATUS", "APPEALS").
		Rows(statusRows(counts)...))
	return nil
}

func appealRetry(ctx context.Context, c *cli.Command, app *setup.App) error {
	if c.Args().Len() != 1 {
		return ErrAppealIDRequired
	}

	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid appeal id: %w", err)
	}

	result, err := app.Engine.RetryExecution(ctx, id)
	if err != nil {
		return err
	}

	var b strings.Builder
	writeField(&b, "ID", id.String())
	writeField(&b, "Execution", result.Outcome.String())
	if len(result.Actions) > 0 {
		writeField(&b, "Actions", strings.Join(result.Actions, ", "))
	}
	if result.Reason != "" {
		writeField(&b, "Reason", result.Reason)
	}
	if result.Error != "" {
		writeField(&b, "Error", dimStyle.Render(result.Error))
	}

	fmt.Print(b.String())
	return nil
}

// statusRows lists every status in lifecycle order, followed by the total.
func statusRows(counts map[enum.AppealStatus]int) [][]string {
	statuses := enum.AppealStatuses()
	rows := make([][]string, 0, len(statuses)+1)

	total := 0
	for _, status := range statuses {
		total += counts[status]
		rows = append(rows, []string{status.String(), strconv.Itoa(counts[status])})
	}

	return append(rows, []string{"Total", strconv.Itoa(total)})
}

func writeField(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(value)
	b.WriteByte('\n')
}

func writeAppeal(b *strings.Builder, a *types.Appeal) {
	writeField(b, "ID", a.ID.String())
	writeField(b, "User", strconv.FormatUint(a.UserID, 10))
	writeField(b, "Guild", strconv.FormatUint(a.GuildID, 10))
	writeField(b, "Action", fmt.Sprintf("%s (%d)", a.Action.Type, a.ActionID))
	writeField(b, "Status", a.Status.String())
	writeField(b, "Path", a.ProcessingPath.String())
	writeField(b, "Submitted", a.SubmittedAt.Format(time.RFC3339))

	if !a.ReviewDeadline.IsZero() {
		writeField(b, "Deadline", a.ReviewDeadline.Format(time.RFC3339))
	}
	if a.ReviewClaimedBy != 0 {
		writeField(b, "Claimed by", strconv.FormatUint(a.ReviewClaimedBy, 10))
	}
	if a.Analysis != nil {
		writeField(b, "Analysis", fmt.Sprintf("%s (%.2f) %s", a.Analysis.Decision, a.Analysis.Confidence, a.Analysis.Reason))
	}
	if a.Review != nil {
		writeField(b, "Review", fmt.Sprintf("%s by %d", a.Review.Decision, a.Review.ReviewerID))
	}
	if a.Execution != nil {
		writeField(b, "Execution", a.Execution.Outcome.String())
	}
}
