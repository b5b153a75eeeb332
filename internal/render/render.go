package render

import (
	"dpoc-dashboard/internal/analytics"
)

// Tab renders the named tab of snap. It reports false for an unknown tab.
func Tab(name string, snap analytics.Snapshot, timestamp string) (View, bool) {
	switch name {
	case "dpoc":
		return DPOC(snap.DPOC, timestamp), true
	case "globex":
		return Globex(snap.Premarket, timestamp), true
	case "profile":
		return Profile(snap.VolumeProfile, snap.TPO, timestamp), true
	case "thinking":
		return Thinking(snap.ThinkingText, timestamp), true
	}
	return View{}, false
}
