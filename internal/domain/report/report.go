// Package report defines the consolidated report archived per root task.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Section summarises one task inside a consolidated report.
type Section struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// Report is the archive row, upserted by root task id.
type Report struct {
	RootTaskID   string    `json:"root_task_id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	Sections     []Section `json:"sections"`
	ResidualRisk bool      `json:"residual_risk"`
	MergeNote    string    `json:"merge_note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Markdown renders the report body.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Title)
	if r.Summary != "" {
		b.WriteString(r.Summary)
		b.WriteString("\n\n")
	}
	if r.ResidualRisk {
		b.WriteString("> Finalized with residual risk.\n\n")
	}
	if r.MergeNote != "" {
		fmt.Fprintf(&b, "Merge: %s\n\n", r.MergeNote)
	}
	for _, s := range r.Sections {
		fmt.Fprintf(&b, "## %s (%s)\n", s.Title, s.Status)
		if s.Result != "" {
			b.WriteString(s.Result)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
