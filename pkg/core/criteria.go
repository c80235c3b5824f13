// pkg/core/criteria.go
package core

import (
	"encoding/json"
	"time"
)

// PurgeCriteria selects calls for bulk deletion. Empty talkgroup or category
// lists mean "all"; the time range is half-open [Start, End).
type PurgeCriteria struct {
	TalkgroupIDs []int64  `json:"talkgroupIds,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	Start        int64    `json:"start,omitempty"`
	End          int64    `json:"end,omitempty"`
}

// Matches reports whether a call falls under the criteria. This is the
// client-side mirror of the backend's purge selection, used to drop the same
// calls from the local store.
func (pc PurgeCriteria) Matches(c Call) bool {
	if len(pc.TalkgroupIDs) > 0 {
		found := false
		for _, tg := range pc.TalkgroupIDs {
			if tg == c.TalkgroupID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(pc.Categories) > 0 {
		found := false
		for _, cat := range pc.Categories {
			if cat == c.NormalizedCategory() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if pc.Start != 0 && c.Timestamp < pc.Start {
		return false
	}
	if pc.End != 0 && c.Timestamp >= pc.End {
		return false
	}
	return true
}

// Key renders the criteria as a stable string, suitable for collapsing
// duplicate in-flight estimate requests.
func (pc PurgeCriteria) Key() string {
	b, _ := json.Marshal(pc)
	return string(b)
}

// PurgeSnapshot is the single retained undo record for the most recent
// purge: the criteria used and the full payload of every call removed.
type PurgeSnapshot struct {
	Criteria PurgeCriteria `json:"criteria"`
	Calls    []Call        `json:"calls"`
	TakenAt  time.Time     `json:"takenAt"`
}
