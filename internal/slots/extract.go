// Package slots projects typed values out of raw intent events.
//
// Malformed or missing slots degrade to "absent" rather than failing, so a
// dialogue turn never aborts on partial input.
package slots

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"home-orchestrator/internal/domain"
)

// Names are the slot names the NLU provider binds values to.
type Names struct {
	Room    string `yaml:"room"`
	Color   string `yaml:"color"`
	Percent string `yaml:"percent"`
	Answer  string `yaml:"answer"`
}

func DefaultNames() Names {
	return Names{
		Room:    "house_room",
		Color:   "color",
		Percent: "percent",
		Answer:  "answer",
	}
}

type Extractor struct {
	names Names
}

func NewExtractor(names Names) *Extractor {
	defaults := DefaultNames()
	if names.Room == "" {
		names.Room = defaults.Room
	}
	if names.Color == "" {
		names.Color = defaults.Color
	}
	if names.Percent == "" {
		names.Percent = defaults.Percent
	}
	if names.Answer == "" {
		names.Answer = defaults.Answer
	}
	return &Extractor{names: names}
}

// Rooms collects every value bound to the room slot. An empty set means all rooms.
func (x *Extractor) Rooms(ev domain.IntentEvent) domain.RoomSet {
	values := ev.Slots[x.names.Room]
	rooms := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := text(v); ok {
			rooms = append(rooms, s)
		}
	}
	return domain.NewRoomSet(rooms...)
}

// Percentage reads the first numeric value of the percent slot clamped into
// [0,100]. When the slot is absent or not numeric def is returned unchanged;
// pass nil to signal "unspecified".
func (x *Extractor) Percentage(ev domain.IntentEvent, def *int) *int {
	values := ev.Slots[x.names.Percent]
	if len(values) == 0 {
		return def
	}
	n, ok := number(values[0])
	if !ok {
		return def
	}
	p := int(math.Round(math.Max(0, math.Min(100, n))))
	return &p
}

func (x *Extractor) Color(ev domain.IntentEvent) (string, bool) {
	return x.first(ev, x.names.Color)
}

func (x *Extractor) Answer(ev domain.IntentEvent) (string, bool) {
	return x.first(ev, x.names.Answer)
}

func (x *Extractor) first(ev domain.IntentEvent, slot string) (string, bool) {
	values := ev.Slots[slot]
	if len(values) == 0 {
		return "", false
	}
	return text(values[0])
}

// unwrap accepts Hermes-style {"value": ...} wrappers around slot values.
func unwrap(v any) any {
	for i := 0; i < 4; i++ {
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		inner, ok := m["value"]
		if !ok {
			return nil
		}
		v = inner
	}
	return v
}

func text(v any) (string, bool) {
	switch t := unwrap(v).(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case nil:
		return "", false
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	case bool, int, int64:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

func number(v any) (float64, bool) {
	var n float64
	switch t := unwrap(v).(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
