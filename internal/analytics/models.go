package analytics

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Snapshot is the analytics payload produced by the backend. Every section is
// optional; a section that is absent or not an object decodes to nil.
type Snapshot struct {
	DPOC          *DPOC          `json:"dpoc,omitempty"`
	Premarket     *Premarket     `json:"premarket,omitempty"`
	VolumeProfile *VolumeProfile `json:"volumeProfile,omitempty"`
	TPO           *TPO           `json:"tpo,omitempty"`
	ThinkingText  Text           `json:"thinkingText"`
}

type DPOC struct {
	Regime         Text   `json:"dpoc_regime"`
	Direction      Text   `json:"direction"`
	NetMigration   Number `json:"net_migration_pts"`
	AvgVelocity    Number `json:"avg_velocity"`
	IsAccelerating Flag   `json:"is_accelerating"`
	IsDecelerating Flag   `json:"is_decelerating"`
	RetainPct      Number `json:"retain_pct"`
	Note           Text   `json:"note"`
	History        Rows   `json:"history"`
}

// HistoryRow is one time slice of the developing POC.
type HistoryRow struct {
	Slice Text   `json:"slice"`
	DPOC  Number `json:"dpoc"`
}

type Premarket struct {
	AsiaHigh         Number `json:"asia_high"`
	AsiaLow          Number `json:"asia_low"`
	AsiaRange        Number `json:"asia_range"`
	LondonHigh       Number `json:"london_high"`
	LondonLow        Number `json:"london_low"`
	LondonRange      Number `json:"london_range"`
	OvernightHigh    Number `json:"overnight_high"`
	OvernightLow     Number `json:"overnight_low"`
	OvernightRange   Number `json:"overnight_range"`
	IsCompressed     Flag   `json:"is_compressed"`
	CompressionRatio Number `json:"compression_ratio"`
	SMTDivergence    Text   `json:"smt_divergence"`
	PrevDayHigh      Number `json:"prev_day_high"`
	PrevDayLow       Number `json:"prev_day_low"`
	PrevWeekHigh     Number `json:"prev_week_high"`
	PrevWeekLow      Number `json:"prev_week_low"`
}

type VolumeProfile struct {
	Current       *ProfileWindow `json:"current,omitempty"`
	PreviousDay   *ProfileWindow `json:"previous_day,omitempty"`
	Previous3Days *ProfileWindow `json:"previous_3_days,omitempty"`
}

// ProfileWindow holds the reference levels of one profiling window.
type ProfileWindow struct {
	POC  Number `json:"poc"`
	VAH  Number `json:"vah"`
	VAL  Number `json:"val"`
	High Number `json:"high"`
	Low  Number `json:"low"`
	HVNs Levels `json:"hvns"`
	LVNs Levels `json:"lvns"`
}

type TPO struct {
	CurrentPOC Number `json:"current_poc"`
}

var ErrNotObject = errors.New("analytics payload is not a JSON object")

// Decode parses a payload section by section. A section with an unexpected
// shape is dropped instead of failing the whole snapshot.
func Decode(b []byte) (Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil || raw == nil {
		return Snapshot{}, ErrNotObject
	}
	var s Snapshot
	s.DPOC = section[DPOC](raw["dpoc"])
	s.Premarket = section[Premarket](raw["premarket"])
	s.VolumeProfile = section[VolumeProfile](raw["volumeProfile"])
	s.TPO = section[TPO](raw["tpo"])
	_ = s.ThinkingText.UnmarshalJSON(raw["thinkingText"])
	return s, nil
}

func section[T any](b json.RawMessage) *T {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(b, v); err != nil {
		return nil
	}
	return v
}

// Rows is the DPOC history. A non-array value decodes to no rows.
type Rows []HistoryRow

func (r *Rows) UnmarshalJSON(b []byte) error {
	*r = nil
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil
	}
	for _, it := range items {
		var row HistoryRow
		if err := json.Unmarshal(it, &row); err != nil {
			continue
		}
		*r = append(*r, row)
	}
	return nil
}

// Levels is a list of price levels; entries that are not numbers are skipped.
type Levels []Number

func (l *Levels) UnmarshalJSON(b []byte) error {
	*l = nil
	var items []Number
	if err := json.Unmarshal(b, &items); err != nil {
		return nil
	}
	for _, n := range items {
		if n.ok {
			*l = append(*l, n)
		}
	}
	return nil
}

// Number is an optional numeric field. It accepts JSON numbers and numeric
// strings; anything else leaves it absent.
type Number struct {
	v  float64
	ok bool
}

func NewNumber(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{}
	}
	return Number{v: v, ok: true}
}

func (n Number) Value() (float64, bool) { return n.v, n.ok }

func (n Number) Or(def float64) float64 {
	if !n.ok {
		return def
	}
	return n.v
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = Number{v: f, ok: true}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.ok {
		return []byte("null"), nil
	}
	return json.Marshal(n.v)
}

// Flag is an optional boolean. It accepts bools, "true"/"false" and 0/1.
type Flag struct {
	v  bool
	ok bool
}

func NewFlag(v bool) Flag { return Flag{v: v, ok: true} }

func (f Flag) Value() (bool, bool) { return f.v, f.ok }

func (f *Flag) UnmarshalJSON(b []byte) error {
	*f = Flag{}
	s := strings.Trim(strings.ToLower(string(bytes.TrimSpace(b))), `"`)
	switch s {
	case "true", "1":
		*f = Flag{v: true, ok: true}
	case "false", "0":
		*f = Flag{v: false, ok: true}
	}
	return nil
}

func (f Flag) MarshalJSON() ([]byte, error) {
	if !f.ok {
		return []byte("null"), nil
	}
	return json.Marshal(f.v)
}

// Text is an optional string. Numbers and bools are kept in their JSON form;
// an empty or whitespace-only string counts as absent.
type Text struct {
	v  string
	ok bool
}

func NewText(v string) Text {
	if strings.TrimSpace(v) == "" {
		return Text{}
	}
	return Text{v: v, ok: true}
}

func (t Text) Value() (string, bool) { return t.v, t.ok }

func (t Text) Or(def string) string {
	if !t.ok {
		return def
	}
	return t.v
}

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		*t = NewText(s)
	case '{', '[':
	default:
		*t = NewText(string(b))
	}
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if !t.ok {
		return []byte("null"), nil
	}
	return json.Marshal(t.v)
}
