package domain

type ReplyAction string

const (
	ReplyEnd      ReplyAction = "end"
	ReplyContinue ReplyAction = "continue"
)

// Reply is the single response the bus receives for an event.
type Reply struct {
	SessionID string      `json:"sessionId"`
	Action    ReplyAction `json:"action"`
	Text      string      `json:"text"`
	Expect    []string    `json:"expect,omitempty"`
}

func EndReply(sessionID, text string) Reply {
	return Reply{SessionID: sessionID, Action: ReplyEnd, Text: text}
}

func ContinueReply(sessionID, text string, expect ...string) Reply {
	return Reply{SessionID: sessionID, Action: ReplyContinue, Text: text, Expect: expect}
}
