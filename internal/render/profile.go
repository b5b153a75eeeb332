package render

import (
	"dpoc-dashboard/internal/analytics"
)

// Profile renders the volume profile windows and the TPO point of control.
func Profile(vp *analytics.VolumeProfile, tpo *analytics.TPO, timestamp string) View {
	if vp == nil {
		vp = &analytics.VolumeProfile{}
	}
	if tpo == nil {
		tpo = &analytics.TPO{}
	}
	window := func(title string, w *analytics.ProfileWindow) Panel {
		if w == nil {
			w = &analytics.ProfileWindow{}
		}
		return Panel{
			Title:    title,
			Headline: "POC " + Fixed2(w.POC),
			Theme:    ThemeNeutral,
			Fields: []Field{
				{Label: "POC", Value: Fixed2(w.POC)},
				{Label: "VAH", Value: Fixed2(w.VAH)},
				{Label: "VAL", Value: Fixed2(w.VAL)},
				{Label: "High", Value: Fixed2(w.High)},
				{Label: "Low", Value: Fixed2(w.Low)},
				{Label: "HVNs", Value: LevelList(w.HVNs), Theme: ThemeInfo},
				{Label: "LVNs", Value: LevelList(w.LVNs), Theme: ThemeWarning},
			},
		}
	}
	tpoPanel := Panel{
		Title:    "TPO",
		Headline: "POC " + Fixed2(tpo.CurrentPOC),
		Theme:    ThemeInfo,
		Fields:   []Field{{Label: "TPO POC", Value: Fixed2(tpo.CurrentPOC)}},
	}
	return View{
		Tab:       "profile",
		Title:     "PROFILE",
		Timestamp: timestamp,
		Panels: []Panel{
			window("Current Session", vp.Current),
			window("Previous Day", vp.PreviousDay),
			window("Previous 3 Days", vp.Previous3Days),
			tpoPanel,
		},
	}
}
