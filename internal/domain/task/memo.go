package task

import (
	"fmt"
	"strings"
	"time"
)

// Memo section headers appended to the task description. The description is
// an append-only log, so every entry is a dated block.
const (
	MemoRevision     = "Revision memo"
	MemoMonitoring   = "Post-merge monitoring"
	MemoResidualRisk = "Residual risk"
	MemoMerge        = "Merge"
	MemoKickoff      = "Kickoff"
	MemoFailure      = "Execution failure"
)

// FormatMemo renders a memo block for appending to a task description.
func FormatMemo(header string, at time.Time, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n[%s | %s]", header, at.UTC().Format(time.RFC3339))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(l)
	}
	return b.String()
}

// LatestMemo returns the body of the most recent memo block with header, or "".
func LatestMemo(description, header string) string {
	marker := "[" + header + " |"
	i := strings.LastIndex(description, marker)
	if i < 0 {
		return ""
	}
	body := description[i:]
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		return ""
	}
	if end := strings.Index(body, "\n\n["); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
