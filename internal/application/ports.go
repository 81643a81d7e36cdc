package application

import (
	"context"
	"fmt"

	"home-orchestrator/internal/domain"
)

// DeviceController performs the actual calls to the home-automation backend.
// An empty room list is never passed; all-rooms variants are used instead.
type DeviceController interface {
	LightOn(ctx context.Context, room string) error
	LightOff(ctx context.Context, room string) error
	LightOnAll(ctx context.Context) error
	LightOffAll(ctx context.Context) error
	SetColor(ctx context.Context, room, color string) error
	SetColorAll(ctx context.Context, color string) error
	SetBrightness(ctx context.Context, room string, percent int) error
	SetBrightnessAll(ctx context.Context, percent int) error
	SetAll(ctx context.Context, color string, percent int) error
	SecondaryOn(ctx context.Context) error
	SecondaryOff(ctx context.Context) error
}

// IntentBus is the reply side of the NLU bus.
type IntentBus interface {
	EndSession(ctx context.Context, sessionID, text string) error
	ContinueSession(ctx context.Context, sessionID, text string, expect []string) error
}

// SessionStore keeps conversations between turns. Load returns a fresh
// command-mode session when none is stored or the stored one went idle.
type SessionStore interface {
	Load(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
}

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ context.Context, _ string) error {
	return nil
}

// Publish sends r through the matching bus primitive.
func Publish(ctx context.Context, bus IntentBus, r domain.Reply) error {
	switch r.Action {
	case domain.ReplyEnd:
		return bus.EndSession(ctx, r.SessionID, r.Text)
	case domain.ReplyContinue:
		return bus.ContinueSession(ctx, r.SessionID, r.Text, r.Expect)
	default:
		return fmt.Errorf("unknown reply action %q", r.Action)
	}
}
