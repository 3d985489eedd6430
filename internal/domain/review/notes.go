package review

import (
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

const (
	minIssueLen = 8
	maxIssueLen = 240
)

var (
	bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•·]+|\d+[.)]|\(\d+\)|\[[ x]\])\s*`)
	spaceRun     = regexp.MustCompile(`\s+`)
	issueWords   = regexp.MustCompile(`(?i)\b(must|should|need(s|ed)?|missing|fix|add|remove|broken|fails?|failing|bug|error|risk|lack(s|ing)?|incorrect|wrong|unclear|insufficient|regression)\b|필요|누락|수정|오류|위험`)
	sentenceEnd  = regexp.MustCompile(`[.!?]\s+|[。！？]\s*`)
)

// NormalizeNote canonicalises a remediation note for deduplication:
// bullet markers stripped, lowercased, whitespace collapsed and trailing
// punctuation removed.
func NormalizeNote(s string) string {
	s = bulletPrefix.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = spaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	return s
}

// NoteHash is the ledger uniqueness key for a normalized note.
func NoteHash(normalized string) string {
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// ExtractIssues pulls concrete issue statements out of a reviewer's text.
// Bulleted lines are taken as-is; prose is split into sentences and only
// sentences carrying issue vocabulary are kept. Results keep first-seen
// order and are deduplicated by normalized form.
func ExtractIssues(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(s string) {
		s = strings.TrimSpace(bulletPrefix.ReplaceAllString(s, ""))
		if len([]rune(s)) < minIssueLen {
			return
		}
		if r := []rune(s); len(r) > maxIssueLen {
			s = strings.TrimSpace(string(r[:maxIssueLen]))
		}
		n := NormalizeNote(s)
		if _, ok := seen[n]; ok || n == "" {
			return
		}
		seen[n] = struct{}{}
		out = append(out, s)
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if bulletPrefix.MatchString(line) {
			add(line)
			continue
		}
		for _, sent := range splitSentences(line) {
			if issueWords.MatchString(sent) {
				add(sent)
			}
		}
	}
	return out
}

func splitSentences(line string) []string {
	idx := sentenceEnd.FindAllStringIndex(line, -1)
	if len(idx) == 0 {
		return []string{line}
	}
	var out []string
	start := 0
	for _, m := range idx {
		_, size := utf8.DecodeRuneInString(line[m[0]:])
		out = append(out, line[start:m[0]+size])
		start = m[1]
	}
	if start < len(line) {
		out = append(out, line[start:])
	}
	return out
}

// MemoItem is one remediation item surfaced by a round.
type MemoItem struct {
	ID         string `json:"id"`
	TaskID     string `json:"task_id"`
	Note       string `json:"note"`
	Normalized string `json:"normalized"`
	Round      int    `json:"round"`
}
