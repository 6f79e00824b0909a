package core

import "sort"

// DefaultRetention is the number of emails kept per user
const DefaultRetention = 100

// MergeEmails prepends incoming to existing, keeps one entry per message id
// (incoming wins), sorts newest first and keeps at most limit entries.
func MergeEmails(existing, incoming []*ProcessedEmail, limit int) []*ProcessedEmail {
	if limit <= 0 {
		limit = DefaultRetention
	}

	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]*ProcessedEmail, 0, len(existing)+len(incoming))
	for _, batch := range [][]*ProcessedEmail{incoming, existing} {
		for _, e := range batch {
			if e == nil {
				continue
			}
			if _, dup := seen[e.MessageID]; dup {
				continue
			}
			seen[e.MessageID] = struct{}{}
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].InternalDate > merged[j].InternalDate
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// AdvanceWatermark returns the largest of current and observed
func AdvanceWatermark(current int64, observed ...int64) int64 {
	for _, ts := range observed {
		if ts > current {
			current = ts
		}
	}
	return current
}
