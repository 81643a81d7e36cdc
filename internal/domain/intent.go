package domain

import "strings"

// IntentEvent is one classified utterance delivered by the intent bus.
type IntentEvent struct {
	Name      string           `json:"intent"`
	SessionID string           `json:"sessionId"`
	Slots     map[string][]any `json:"slots,omitempty"`
}

// IntentKind is the closed set of intents the orchestrator understands.
type IntentKind int

const (
	IntentUnknown IntentKind = iota
	IntentLightOn
	IntentLightOff
	IntentSetColor
	IntentSetBrightness
	IntentSecondaryOn
	IntentSecondaryOff
	IntentArriveHome
	IntentLeaveHome
	IntentGiveAnswer
)

var intentKindNames = map[IntentKind]string{
	IntentUnknown:       "unknown",
	IntentLightOn:       "light_on",
	IntentLightOff:      "light_off",
	IntentSetColor:      "set_color",
	IntentSetBrightness: "set_brightness",
	IntentSecondaryOn:   "secondary_on",
	IntentSecondaryOff:  "secondary_off",
	IntentArriveHome:    "arrive_home",
	IntentLeaveHome:     "leave_home",
	IntentGiveAnswer:    "give_answer",
}

func (k IntentKind) String() string {
	if name, ok := intentKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseIntentKind maps a config key such as "light_on" to its kind.
func ParseIntentKind(key string) (IntentKind, bool) {
	for kind, name := range intentKindNames {
		if kind != IntentUnknown && name == key {
			return kind, true
		}
	}
	return IntentUnknown, false
}

// Vocabulary maps intent kinds to the names a particular NLU provider emits.
// With namespace stripping enabled, "ns:leaf" and "leaf" both resolve through
// the leaf name.
type Vocabulary struct {
	names          map[IntentKind]string
	byLeaf         map[string]IntentKind
	separator      string
	stripNamespace bool
}

func NewVocabulary(names map[IntentKind]string, separator string, stripNamespace bool) *Vocabulary {
	v := &Vocabulary{
		names:          make(map[IntentKind]string, len(names)),
		byLeaf:         make(map[string]IntentKind, len(names)),
		separator:      separator,
		stripNamespace: stripNamespace,
	}
	for kind, name := range names {
		if kind == IntentUnknown || name == "" {
			continue
		}
		v.names[kind] = name
		v.byLeaf[v.key(name)] = kind
	}
	return v
}

// DefaultIntentNames is the stock vocabulary of the assistant app.
func DefaultIntentNames() map[IntentKind]string {
	return map[IntentKind]string{
		IntentLightOn:       "turnOn",
		IntentLightOff:      "turnOff",
		IntentSetColor:      "LLUWE19:setColor",
		IntentSetBrightness: "setBrightness",
		IntentSecondaryOn:   "secondaryOn",
		IntentSecondaryOff:  "secondaryOff",
		IntentArriveHome:    "LLUWE19:arriveHome",
		IntentLeaveHome:     "LLUWE19:leaveHome",
		IntentGiveAnswer:    "LLUWE19:giveAnswer",
	}
}

// Resolve returns the kind for an incoming intent name, or IntentUnknown.
func (v *Vocabulary) Resolve(name string) IntentKind {
	if kind, ok := v.byLeaf[v.key(name)]; ok {
		return kind
	}
	return IntentUnknown
}

// Name returns the configured name for kind, as sent back in expect lists.
func (v *Vocabulary) Name(kind IntentKind) string {
	return v.names[kind]
}

func (v *Vocabulary) key(name string) string {
	if !v.stripNamespace || v.separator == "" {
		return name
	}
	if i := strings.LastIndex(name, v.separator); i >= 0 {
		return name[i+len(v.separator):]
	}
	return name
}
