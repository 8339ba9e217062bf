package migration

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/accountmover/accountmover/state"
)

// Summary renders a human-readable report of the executor's migration record.
func (e *Executor) Summary(w io.Writer) error {
	record, ok := e.store.GetMigrationInfo(e.migrationID)
	if !ok {
		return &state.NotFoundError{MigrationID: e.migrationID}
	}
	WriteSummary(w, e.migrationID, record)
	return nil
}

// WriteSummary renders one migration record as a step table followed by the
// audit log of created resources.
func WriteSummary(w io.Writer, migrationID string, record *state.MigrationRecord) {
	fmt.Fprintf(w, "Migration:  %s\n", migrationID)
	fmt.Fprintf(w, "Resource:   %s %s", record.ResourceType, record.SourceID)
	if record.TargetID != "" {
		fmt.Fprintf(w, " -> %s", record.TargetID)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Status:     %s\n", record.Status)
	fmt.Fprintf(w, "Started:    %s\n", humanizeTime(record.StartedAt))
	if record.Status == state.StatusCompleted {
		fmt.Fprintf(w, "Completed:  %s\n", humanizeTime(record.CompletedAt))
	}
	if record.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", record.Error)
	}
	fmt.Fprintln(w)

	t := tabby.NewCustom(newSummaryWriter(w))
	t.AddHeader("STEP", "STATUS", "DURATION", "DETAIL")
	for _, name := range record.StepOrder {
		step := record.Step(name)
		if step == nil {
			continue
		}
		detail := step.Error
		if detail == "" && step.Status == state.StatusSkipped {
			detail = "skipped"
		}
		t.AddLine(name, string(step.Status), stepDuration(step), detail)
	}
	t.Print()

	if len(record.ResourcesCreated) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Resources created:")
		t = tabby.NewCustom(newSummaryWriter(w))
		t.AddHeader("TYPE", "ID", "CREATED")
		for _, resource := range record.ResourcesCreated {
			t.AddLine(resource.Type, resource.ID, humanize.Time(resource.CreatedAt))
		}
		t.Print()
	}
}

func newSummaryWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func stepDuration(step *state.StepRecord) string {
	if step.StartedAt == nil {
		return ""
	}
	end := time.Now()
	if step.CompletedAt != nil {
		end = *step.CompletedAt
	}
	duration := end.Sub(*step.StartedAt)
	if duration < 0 {
		duration = 0
	}
	return duration.Round(time.Second).String()
}

func humanizeTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(*t))
}

// WriteOverview renders a one-line-per-migration table, sorted the way the
// ids arrive.
func WriteOverview(w io.Writer, store *state.Manager, migrationIDs []string) error {
	t := tabby.NewCustom(newSummaryWriter(w))
	t.AddHeader("MIGRATION", "STATUS", "TARGET", "UPDATED")
	for _, id := range migrationIDs {
		record, ok := store.GetMigrationInfo(id)
		if !ok {
			return errors.WithStack(&state.NotFoundError{MigrationID: id})
		}
		updated := record.CreatedAt
		if record.CompletedAt != nil {
			updated = *record.CompletedAt
		} else if record.StartedAt != nil {
			updated = *record.StartedAt
		}
		t.AddLine(id, string(record.Status), record.TargetID, humanize.Time(updated))
	}
	t.Print()
	return nil
}
