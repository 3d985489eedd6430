// Package department defines organizational units and task routing by keyword.
package department

import (
	"sort"
	"strings"
	"unicode"
)

// Department is an organizational unit with a leader and routing keywords.
type Department struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Order    int      `json:"order"`
}

// Detect returns the IDs of departments whose name or keywords appear in
// text, in department order. Matching is case-insensitive on word
// boundaries for ASCII keywords and substring for everything else.
func Detect(depts []Department, text string) []string {
	lower := strings.ToLower(text)
	words := map[string]struct{}{}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = struct{}{}
	}

	sorted := make([]Department, len(depts))
	copy(sorted, depts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var ids []string
	for i := range sorted {
		if matches(sorted[i], lower, words) {
			ids = append(ids, sorted[i].ID)
		}
	}
	return ids
}

func matches(d Department, lower string, words map[string]struct{}) bool {
	terms := append([]string{d.Name}, d.Keywords...)
	for _, k := range terms {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if isASCIIWord(k) {
			if _, ok := words[k]; ok {
				return true
			}
			continue
		}
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
