package domain

import "time"

type Mode int

const (
	ModeCommand Mode = iota
	ModeConversation
)

func (m Mode) String() string {
	if m == ModeConversation {
		return "conversation"
	}
	return "command"
}

// QuestionID identifies the prompt that was last issued in a conversation.
type QuestionID int

const (
	QuestionNone QuestionID = iota
	AskLightsOn
	AskColor
	AskBrightness
	AskSecondaryOn
)

func (q QuestionID) String() string {
	switch q {
	case AskLightsOn:
		return "ask_lights_on"
	case AskColor:
		return "ask_color"
	case AskBrightness:
		return "ask_brightness"
	case AskSecondaryOn:
		return "ask_secondary_on"
	default:
		return "none"
	}
}

// Direction records why a conversation was started.
type Direction int

const (
	DirectionNone Direction = iota
	Arriving
	Leaving
)

func (d Direction) String() string {
	switch d {
	case Arriving:
		return "arriving"
	case Leaving:
		return "leaving"
	default:
		return "none"
	}
}

// Collected holds the answers gathered so far. Nil means not answered yet.
type Collected struct {
	LightOn     *bool   `json:"lightOn,omitempty"`
	Color       *string `json:"color,omitempty"`
	Brightness  *int    `json:"brightness,omitempty"`
	SecondaryOn *bool   `json:"secondaryOn,omitempty"`
}

// Session is the dialogue context of one spoken exchange.
// PendingQuestion is set if and only if Mode is ModeConversation.
type Session struct {
	ID              string     `json:"id"`
	Mode            Mode       `json:"mode"`
	PendingQuestion QuestionID `json:"pendingQuestion"`
	Direction       Direction  `json:"direction"`
	Collected       Collected  `json:"collected"`
	SecondaryAsked  bool       `json:"secondaryAsked"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func NewSession(id string) *Session {
	return &Session{ID: id, Mode: ModeCommand}
}

// Begin enters conversation mode awaiting q.
func (s *Session) Begin(dir Direction, q QuestionID) {
	s.Reset()
	s.Mode = ModeConversation
	s.Direction = dir
	s.PendingQuestion = q
}

// Ask moves an ongoing conversation to the next question.
func (s *Session) Ask(q QuestionID) {
	s.PendingQuestion = q
	if q == AskSecondaryOn {
		s.SecondaryAsked = true
	}
}

// Reset returns the session to command mode and forgets collected answers.
func (s *Session) Reset() {
	s.Mode = ModeCommand
	s.PendingQuestion = QuestionNone
	s.Direction = DirectionNone
	s.Collected = Collected{}
	s.SecondaryAsked = false
}

// Consistent reports whether the mode/question invariant holds.
func (s *Session) Consistent() bool {
	return (s.Mode == ModeConversation) == (s.PendingQuestion != QuestionNone)
}

func (s *Session) Clone() *Session {
	c := *s
	c.Collected = Collected{
		LightOn:     clonePtr(s.Collected.LightOn),
		Color:       clonePtr(s.Collected.Color),
		Brightness:  clonePtr(s.Collected.Brightness),
		SecondaryOn: clonePtr(s.Collected.SecondaryOn),
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
