package search

import (
	"sort"
	"strings"
)

// MatchGroups is the in-process fallback. Every whitespace-separated term must
// appear, case-insensitively, in the title or description. Title matches rank
// first, then workspace order.
func MatchGroups(records []GroupRecord, text string, limit int) []Hit {
	terms := strings.Fields(strings.ToLower(text))
	type scored struct {
		record GroupRecord
		score  int
	}
	var matches []scored
	for _, r := range records {
		title := strings.ToLower(r.Title)
		description := strings.ToLower(r.Description)
		score, ok := 0, true
		for _, term := range terms {
			switch {
			case strings.Contains(title, term):
				score += 2
			case strings.Contains(description, term):
				score++
			default:
				ok = false
			}
			if !ok {
				break
			}
		}
		if ok {
			matches = append(matches, scored{record: r, score: score})
		}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].score != matches[b].score {
			return matches[a].score > matches[b].score
		}
		return matches[a].record.Order < matches[b].record.Order
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, Hit{GroupID: m.record.GroupID, Title: m.record.Title, Description: m.record.Description})
	}
	return hits
}
