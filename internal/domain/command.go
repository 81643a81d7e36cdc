package domain

type Action string

const (
	ActionTurnOn        Action = "turn_on"
	ActionTurnOff       Action = "turn_off"
	ActionSetColor      Action = "set_color"
	ActionSetBrightness Action = "set_brightness"
	ActionSetAll        Action = "set_all"
	ActionSecondaryOn   Action = "secondary_on"
	ActionSecondaryOff  Action = "secondary_off"
)

// Command is a resolved one-shot action. It is built per event and never stored.
type Command struct {
	Action     Action
	Rooms      RoomSet
	Color      string
	Brightness int
}

// RoomSet is an ordered, de-duplicated list of room names.
// An empty set addresses every room.
type RoomSet []string

func NewRoomSet(rooms ...string) RoomSet {
	set := make(RoomSet, 0, len(rooms))
	seen := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		set = append(set, r)
	}
	return set
}

// All reports whether the set addresses every room.
func (r RoomSet) All() bool {
	return len(r) == 0
}
