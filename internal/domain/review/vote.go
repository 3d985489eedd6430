// Package review holds the pure decision logic of review consensus:
// vote classification, hold partitioning and remediation note handling.
package review

import (
	"regexp"
	"strings"
)

// Decision is the classified meaning of a final vote.
type Decision string

const (
	DecisionReviewing Decision = "reviewing"
	DecisionApproved  Decision = "approved"
	DecisionHold      Decision = "hold"
)

// Vote is one participant's classified final statement.
type Vote struct {
	AgentID      string   `json:"agent_id"`
	DepartmentID string   `json:"department_id"`
	Decision     Decision `json:"decision"`
	Deferrable   bool     `json:"deferrable"`
	Text         string   `json:"text"`
}

// Classifier turns a free-text reply into a decision.
type Classifier interface {
	Classify(text string) Decision
	// Deferrable reports whether a hold is out of scope for this task and
	// can become a post-merge monitoring note instead of blocking.
	Deferrable(text string) bool
}

var (
	holdPattern    = regexp.MustCompile(`(?i)\b(hold|block(ed|er|ing)?|reject(ed)?|not approved|cannot approve|needs? (fix|fixes|work|changes)|must fix|request(ing)? changes)\b|보류|반려|수정 필요`)
	approvePattern = regexp.MustCompile(`(?i)\b(approve[ds]?|lgtm|looks good|ship it|sign[- ]?off|go ahead|no objections?)\b|승인|통과`)
	deferPattern   = regexp.MustCompile(`(?i)\b(out of scope|follow[- ]?up|post[- ]?merge|after (merge|release)|separate task|monitor(ing)?|later iteration|non[- ]?blocking|nice to have)\b|후속|모니터링`)
	negatedApprove = regexp.MustCompile(`(?i)\b(not|cannot|can't|won't|unable to)\s+(yet\s+)?approve`)
	negatedHold    = regexp.MustCompile(`(?i)\b(no|nothing|not|without|zero|non)[\s-]+(\w+\s+)?(block(ed|er|ers|ing)?|holds?)\b`)
)

// HeuristicClassifier matches hold and approval phrases. Holds win over
// approvals because reviewers often write "approve once X is fixed".
type HeuristicClassifier struct{}

// Classify implements Classifier.
func (HeuristicClassifier) Classify(text string) Decision {
	t := strings.TrimSpace(text)
	if t == "" {
		return DecisionReviewing
	}
	if negatedApprove.MatchString(t) || holdPattern.MatchString(negatedHold.ReplaceAllString(t, " ")) {
		return DecisionHold
	}
	if approvePattern.MatchString(t) {
		return DecisionApproved
	}
	return DecisionReviewing
}

// Deferrable implements Classifier.
func (HeuristicClassifier) Deferrable(text string) bool {
	return deferPattern.MatchString(text)
}

// ClassifyVote builds a Vote from a final statement.
func ClassifyVote(c Classifier, agentID, departmentID, text string) Vote {
	v := Vote{AgentID: agentID, DepartmentID: departmentID, Text: text, Decision: c.Classify(text)}
	if v.Decision == DecisionHold {
		v.Deferrable = c.Deferrable(text)
	}
	return v
}
