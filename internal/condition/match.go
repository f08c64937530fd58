package condition

import (
	"sort"

	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// MatchTrigger reports whether r is a candidate for the event. The reason
// names the first trigger data key that did not match.
func MatchTrigger(r *rule.Rule, eventName string, eventData map[string]interface{}) (bool, string) {
	if !r.Enabled {
		return false, "rule is disabled"
	}
	if r.Trigger.EventName != eventName {
		return false, "event name does not match"
	}
	if key, ok := MatchData(r.Trigger.EventData, eventData); !ok {
		return false, "trigger data does not match: " + key
	}
	return true, ""
}

// MatchData checks every expected key against the payload. Keys with an
// empty or null expected value act as wildcards. Keys are visited in
// sorted order so the reported mismatch is stable.
func MatchData(expected, actual map[string]interface{}) (string, bool) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		want := expected[k]
		if want == nil {
			continue
		}
		if s, ok := want.(string); ok && s == "" {
			continue
		}
		got, ok := actual[k]
		if !ok || !equal(got, want) {
			return k, false
		}
	}
	return "", true
}
