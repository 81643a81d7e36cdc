package application_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"home-orchestrator/internal/application"
	"home-orchestrator/internal/dialogue"
	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/session"
	"home-orchestrator/internal/slots"
)

type mockDeviceController struct {
	mu      sync.Mutex
	calls   []string
	err     error
	panicOn string
}

func (m *mockDeviceController) record(format string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := fmt.Sprintf(format, args...)
	m.calls = append(m.calls, call)
	if call == m.panicOn {
		panic("driver crashed in " + call)
	}
	return m.err
}

func (m *mockDeviceController) LightOn(_ context.Context, room string) error {
	return m.record("lightOn(%s)", room)
}
func (m *mockDeviceController) LightOff(_ context.Context, room string) error {
	return m.record("lightOff(%s)", room)
}
func (m *mockDeviceController) LightOnAll(context.Context) error  { return m.record("lightOnAll()") }
func (m *mockDeviceController) LightOffAll(context.Context) error { return m.record("lightOffAll()") }
func (m *mockDeviceController) SetColor(_ context.Context, room, color string) error {
	return m.record("setColor(%s,%s)", room, color)
}
func (m *mockDeviceController) SetColorAll(_ context.Context, color string) error {
	return m.record("setColorAll(%s)", color)
}
func (m *mockDeviceController) SetBrightness(_ context.Context, room string, percent int) error {
	return m.record("setBrightness(%s,%d)", room, percent)
}
func (m *mockDeviceController) SetBrightnessAll(_ context.Context, percent int) error {
	return m.record("setBrightnessAll(%d)", percent)
}
func (m *mockDeviceController) SetAll(_ context.Context, color string, percent int) error {
	return m.record("setAll(%s,%d)", color, percent)
}
func (m *mockDeviceController) SecondaryOn(context.Context) error  { return m.record("secondaryOn()") }
func (m *mockDeviceController) SecondaryOff(context.Context) error { return m.record("secondaryOff()") }

func (m *mockDeviceController) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockBus struct {
	mu      sync.Mutex
	replies []domain.Reply
	err     error
}

func (m *mockBus) EndSession(_ context.Context, sessionID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, domain.EndReply(sessionID, text))
	return m.err
}

func (m *mockBus) ContinueSession(_ context.Context, sessionID, text string, expect []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, domain.ContinueReply(sessionID, text, expect...))
	return m.err
}

func (m *mockBus) Replies() []domain.Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Reply(nil), m.replies...)
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockNotifier) Notify(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

type fixture struct {
	devices    *mockDeviceController
	bus        *mockBus
	notifier   *mockNotifier
	store      application.SessionStore
	dispatcher *application.Dispatcher
}

func newFixture(t *testing.T, opts ...func(*fixtureConfig)) *fixture {
	t.Helper()
	cfg := fixtureConfig{
		script:  dialogue.DefaultScript(),
		replies: application.DefaultReplies(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		devices:  &mockDeviceController{},
		bus:      &mockBus{},
		notifier: &mockNotifier{},
		store:    cfg.store,
	}
	if f.store == nil {
		f.store = session.NewMemoryStore(time.Minute, logger)
	}

	vocab := domain.NewVocabulary(domain.DefaultIntentNames(), ":", true)
	extractor := slots.NewExtractor(slots.DefaultNames())
	executor := application.NewExecutor(f.devices, f.notifier, time.Second, "fan", logger)
	machine := dialogue.NewMachine(cfg.script, vocab, extractor, executor, logger)
	f.dispatcher = application.NewDispatcher(vocab, extractor, machine, executor, f.store, f.bus, cfg.replies, logger)
	return f
}

type fixtureConfig struct {
	script  dialogue.Script
	replies application.Replies
	store   application.SessionStore
}

func event(sessionID, name string, slots map[string][]any) domain.IntentEvent {
	return domain.IntentEvent{Name: name, SessionID: sessionID, Slots: slots}
}

func (f *fixture) send(t *testing.T, ev domain.IntentEvent) {
	t.Helper()
	require.NoError(t, f.dispatcher.OnIntent(context.Background(), ev))
}

func TestDispatcher_TurnOnNamedRooms(t *testing.T) {
	f := newFixture(t)

	f.send(t, event("s1", "turnOn", map[string][]any{"house_room": {"kitchen", "den"}}))

	assert.Equal(t, []string{"lightOn(kitchen)", "lightOn(den)"}, f.devices.Calls())
	assert.Equal(t, []domain.Reply{domain.EndReply("s1", "turning on the kitchen and den lights")}, f.bus.Replies())
}

func TestDispatcher_UnknownIntentIsIgnored(t *testing.T) {
	f := newFixture(t)

	f.send(t, event("s1", "orderPizza", nil))
	f.send(t, event("s1", "LLUWE19:giveAnswer", map[string][]any{"answer": {"yes"}}))

	assert.Empty(t, f.devices.Calls())
	assert.Empty(t, f.bus.Replies())
}

func TestDispatcher_UnknownIntentReplyConfigured(t *testing.T) {
	f := newFixture(t, func(c *fixtureConfig) { c.replies.UnknownIntent = "sorry, I can't do that" })

	f.send(t, event("s1", "orderPizza", nil))

	assert.Empty(t, f.devices.Calls())
	assert.Equal(t, []domain.Reply{domain.EndReply("s1", "sorry, I can't do that")}, f.bus.Replies())
}

func TestDispatcher_RepeatedCommandIsIdempotent(t *testing.T) {
	f := newFixture(t)

	for range 3 {
		f.send(t, event("s1", "turnOn", nil))
	}

	assert.Equal(t, []string{"lightOnAll()", "lightOnAll()", "lightOnAll()"}, f.devices.Calls())
	want := domain.EndReply("s1", "lights on")
	assert.Equal(t, []domain.Reply{want, want, want}, f.bus.Replies())
}

func TestDispatcher_CommandSentences(t *testing.T) {
	tests := []struct {
		name      string
		ev        domain.IntentEvent
		wantCalls []string
		wantText  string
	}{
		{
			name:      "lights off everywhere",
			ev:        event("s1", "turnOff", nil),
			wantCalls: []string{"lightOffAll()"},
			wantText:  "lights off",
		},
		{
			name:      "lights off in one room",
			ev:        event("s1", "turnOff", map[string][]any{"house_room": {"hall"}}),
			wantCalls: []string{"lightOff(hall)"},
			wantText:  "turning off the hall lights",
		},
		{
			name:      "color everywhere",
			ev:        event("s1", "LLUWE19:setColor", map[string][]any{"color": {"red"}}),
			wantCalls: []string{"setColorAll(red)"},
			wantText:  "changing lights to red",
		},
		{
			name:      "color per room",
			ev:        event("s1", "setColor", map[string][]any{"color": {"red"}, "house_room": {"den", "hall", "den"}}),
			wantCalls: []string{"setColor(den,red)", "setColor(hall,red)"},
			wantText:  "changing the den and hall lights to red",
		},
		{
			name:      "brightness clamped",
			ev:        event("s1", "setBrightness", map[string][]any{"percent": {150.0}}),
			wantCalls: []string{"setBrightnessAll(100)"},
			wantText:  "setting light brightness to 100",
		},
		{
			name:      "brightness per room",
			ev:        event("s1", "setBrightness", map[string][]any{"percent": {40.0}, "house_room": {"kitchen"}}),
			wantCalls: []string{"setBrightness(kitchen,40)"},
			wantText:  "setting the kitchen lights to 40",
		},
		{
			name:      "missing color",
			ev:        event("s1", "setColor", nil),
			wantCalls: nil,
			wantText:  "you did not specify a color",
		},
		{
			name:      "missing brightness",
			ev:        event("s1", "setBrightness", map[string][]any{"percent": {"lots"}}),
			wantCalls: nil,
			wantText:  "you did not specify the brightness",
		},
		{
			name:      "secondary on",
			ev:        event("s1", "secondaryOn", nil),
			wantCalls: []string{"secondaryOn()"},
			wantText:  "turning on the fan",
		},
		{
			name:      "secondary off",
			ev:        event("s1", "secondaryOff", nil),
			wantCalls: []string{"secondaryOff()"},
			wantText:  "turning off the fan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			f.send(t, tt.ev)

			assert.Equal(t, tt.wantCalls, f.devices.Calls())
			assert.Equal(t, []domain.Reply{domain.EndReply("s1", tt.wantText)}, f.bus.Replies())
		})
	}
}

func TestDispatcher_ArrivalConversation(t *testing.T) {
	f := newFixture(t)

	f.send(t, event("s1", "LLUWE19:arriveHome", nil))
	f.send(t, event("s1", "LLUWE19:giveAnswer", map[string][]any{"answer": {"yes"}}))
	f.send(t, event("s1", "LLUWE19:setColor", map[string][]any{"color": {"blue"}}))
	f.send(t, event("s1", "setBrightness", map[string][]any{"percent": {70.0}}))

	assert.Equal(t, []domain.Reply{
		domain.ContinueReply("s1", "welcome home. would you like the lights on", "LLUWE19:giveAnswer"),
		domain.ContinueReply("s1", "okay. what color do you want the light", "LLUWE19:setColor"),
		domain.ContinueReply("s1", "okay. how bright do you want the light", "setBrightness"),
		domain.EndReply("s1", "okay. welcome home"),
	}, f.bus.Replies())
	assert.Equal(t, []string{"setAll(blue,70)"}, f.devices.Calls())

	s, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeCommand, s.Mode)
	assert.True(t, s.Consistent())
}

func TestDispatcher_ConversationCapturesEveryIntent(t *testing.T) {
	f := newFixture(t)

	f.send(t, event("s1", "LLUWE19:leaveHome", nil))
	// A command intent mid-conversation answers the pending question instead
	// of switching the lights directly.
	f.send(t, event("s1", "turnOff", nil))

	replies := f.bus.Replies()
	require.Len(t, replies, 2)
	assert.Equal(t, domain.EndReply("s1", "okay. see you later"), replies[1])
	assert.Equal(t, []string{"lightOffAll()"}, f.devices.Calls())
}

func TestDispatcher_SessionsAreIndependent(t *testing.T) {
	f := newFixture(t)

	f.send(t, event("a", "LLUWE19:arriveHome", nil))
	f.send(t, event("b", "turnOn", nil))
	f.send(t, event("a", "LLUWE19:giveAnswer", map[string][]any{"answer": {"no"}}))

	assert.Equal(t, []domain.Reply{
		domain.ContinueReply("a", "welcome home. would you like the lights on", "LLUWE19:giveAnswer"),
		domain.EndReply("b", "lights on"),
		domain.EndReply("a", "okay. welcome home"),
	}, f.bus.Replies())
	assert.Equal(t, []string{"lightOnAll()", "lightOffAll()"}, f.devices.Calls())
}

func TestDispatcher_DeviceFailureRepliesAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.devices.err = errors.New("backend unreachable")

	f.send(t, event("s1", "turnOn", map[string][]any{"house_room": {"kitchen", "den"}}))

	assert.Equal(t, []string{"lightOn(kitchen)", "lightOn(den)"}, f.devices.Calls())
	assert.Equal(t, []domain.Reply{domain.EndReply("s1", "sorry, I could not reach the lights")}, f.bus.Replies())
	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "backend unreachable")
}

func TestDispatcher_ConversationFailureResetsSession(t *testing.T) {
	f := newFixture(t)

	f.send(t, event("s1", "LLUWE19:arriveHome", nil))
	f.devices.err = errors.New("backend unreachable")
	f.send(t, event("s1", "LLUWE19:giveAnswer", map[string][]any{"answer": {"no"}}))

	replies := f.bus.Replies()
	require.Len(t, replies, 2)
	assert.Equal(t, domain.EndReply("s1", "sorry, I could not reach the lights"), replies[1])

	s, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeCommand, s.Mode)
}

func TestDispatcher_PanicEndsConversation(t *testing.T) {
	f := newFixture(t)

	f.send(t, event("s1", "LLUWE19:arriveHome", nil))
	f.devices.panicOn = "lightOffAll()"
	f.send(t, event("s1", "LLUWE19:giveAnswer", map[string][]any{"answer": {"no"}}))

	replies := f.bus.Replies()
	require.Len(t, replies, 2)
	assert.Equal(t, domain.EndReply("s1", "sorry, I could not reach the lights"), replies[1])

	s, err := f.store.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeCommand, s.Mode)
	assert.Equal(t, domain.QuestionNone, s.PendingQuestion)

	f.devices.panicOn = ""
	f.send(t, event("s1", "turnOn", nil))
	assert.Equal(t, domain.EndReply("s1", "lights on"), f.bus.Replies()[2])
}

func TestDispatcher_PublishErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.bus.err = errors.New("socket closed")

	err := f.dispatcher.OnIntent(context.Background(), event("s1", "turnOn", nil))

	assert.ErrorContains(t, err, "socket closed")
}

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (*domain.Session, error) {
	return nil, errors.New("store down")
}
func (brokenStore) Save(context.Context, *domain.Session) error { return errors.New("store down") }
func (brokenStore) Delete(context.Context, string) error        { return errors.New("store down") }

func TestDispatcher_StoreFailureStillReplies(t *testing.T) {
	f := newFixture(t, func(c *fixtureConfig) { c.store = brokenStore{} })

	f.send(t, event("s1", "LLUWE19:arriveHome", nil))
	f.send(t, event("s1", "turnOn", nil))

	assert.Len(t, f.bus.Replies(), 2)
	assert.Equal(t, domain.EndReply("s1", "lights on"), f.bus.Replies()[1])
}

// exclusiveStore flags any overlap between Load and the following
// Save/Delete of the same session.
type exclusiveStore struct {
	application.SessionStore
	active   sync.Map
	overlaps atomic.Int32
}

func (s *exclusiveStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	if _, busy := s.active.LoadOrStore(id, true); busy {
		s.overlaps.Add(1)
	}
	time.Sleep(time.Millisecond)
	return s.SessionStore.Load(ctx, id)
}

func (s *exclusiveStore) Save(ctx context.Context, sess *domain.Session) error {
	s.active.Delete(sess.ID)
	return s.SessionStore.Save(ctx, sess)
}

func (s *exclusiveStore) Delete(ctx context.Context, id string) error {
	s.active.Delete(id)
	return s.SessionStore.Delete(ctx, id)
}

func TestDispatcher_SerializesTurnsPerSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &exclusiveStore{SessionStore: session.NewMemoryStore(time.Minute, logger)}
	f := newFixture(t, func(c *fixtureConfig) { c.store = store })

	var wg sync.WaitGroup
	var replies atomic.Int32
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%4)
			if _, ok := f.dispatcher.Handle(context.Background(), event(id, "turnOn", nil)); ok {
				replies.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, store.overlaps.Load())
	assert.EqualValues(t, 40, replies.Load())
	assert.Len(t, f.devices.Calls(), 40)
}
