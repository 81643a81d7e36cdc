package application

import (
	"context"
	"fmt"
	"log/slog"

	"home-orchestrator/internal/dialogue"
	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/metrics"
	"home-orchestrator/internal/slots"
)

// Replies are the fixed sentences the dispatcher speaks outside a conversation.
type Replies struct {
	// UnknownIntent is spoken for unrecognized intents in command mode.
	// Empty means such intents are ignored without a reply.
	UnknownIntent     string
	Failure           string
	MissingColor      string
	MissingBrightness string
}

func DefaultReplies() Replies {
	return Replies{
		Failure:           "sorry, I could not reach the lights",
		MissingColor:      "you did not specify a color",
		MissingBrightness: "you did not specify the brightness",
	}
}

// Dispatcher is the single entry point for intent events.
type Dispatcher struct {
	vocab    *domain.Vocabulary
	slots    *slots.Extractor
	machine  *dialogue.Machine
	executor *Executor
	store    SessionStore
	bus      IntentBus
	replies  Replies
	logger   *slog.Logger
	locks    *sessionLocks
}

func NewDispatcher(
	vocab *domain.Vocabulary,
	extractor *slots.Extractor,
	machine *dialogue.Machine,
	executor *Executor,
	store SessionStore,
	bus IntentBus,
	replies Replies,
	logger *slog.Logger,
) *Dispatcher {
	defaults := DefaultReplies()
	if replies.Failure == "" {
		replies.Failure = defaults.Failure
	}
	if replies.MissingColor == "" {
		replies.MissingColor = defaults.MissingColor
	}
	if replies.MissingBrightness == "" {
		replies.MissingBrightness = defaults.MissingBrightness
	}

	return &Dispatcher{
		vocab:    vocab,
		slots:    extractor,
		machine:  machine,
		executor: executor,
		store:    store,
		bus:      bus,
		replies:  replies,
		logger:   logger,
		locks:    newSessionLocks(),
	}
}

// OnIntent handles ev and publishes its reply, if any, on the bus.
func (d *Dispatcher) OnIntent(ctx context.Context, ev domain.IntentEvent) error {
	reply, ok := d.Handle(ctx, ev)
	if !ok {
		return nil
	}
	if err := Publish(ctx, d.bus, reply); err != nil {
		return fmt.Errorf("publishing reply: %w", err)
	}
	return nil
}

// Handle processes one event and returns the reply to send. ok is false
// only when an unrecognized command-mode intent is ignored.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.IntentEvent) (reply domain.Reply, ok bool) {
	rooms := d.slots.Rooms(ev)
	kind := d.vocab.Resolve(ev.Name)

	unlock := d.locks.Lock(ev.SessionID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic handling intent", "session_id", ev.SessionID, "intent", ev.Name, "panic", r)
			reply, ok = domain.EndReply(ev.SessionID, d.replies.Failure), true
			if err := d.store.Delete(context.WithoutCancel(ctx), ev.SessionID); err != nil {
				d.logger.Error("dropping session after panic", "session_id", ev.SessionID, "error", err)
			}
		}
		if ok {
			metrics.RepliesTotal.WithLabelValues(string(reply.Action)).Inc()
		}
	}()

	sess, err := d.store.Load(ctx, ev.SessionID)
	if err != nil {
		d.logger.Warn("loading session, starting fresh", "session_id", ev.SessionID, "error", err)
		sess = domain.NewSession(ev.SessionID)
	}

	metrics.IntentsTotal.WithLabelValues(kind.String(), sess.Mode.String()).Inc()
	d.logger.Debug("intent received",
		"session_id", ev.SessionID,
		"intent", ev.Name,
		"kind", kind,
		"mode", sess.Mode,
		"rooms", rooms,
	)

	if sess.Mode == domain.ModeConversation {
		reply, ok = d.machine.HandleIntent(ctx, sess, ev), true
	} else {
		handler, found := commandHandlers[kind]
		if found {
			reply, ok = handler(d, ctx, sess, ev, rooms), true
		} else {
			reply, ok = d.unrecognized(ev)
		}
	}

	d.persist(context.WithoutCancel(ctx), sess)
	return reply, ok
}

type commandHandler func(d *Dispatcher, ctx context.Context, s *domain.Session, ev domain.IntentEvent, rooms domain.RoomSet) domain.Reply

// commandHandlers maps command-mode intents to handlers. Kinds missing here
// (including IntentGiveAnswer) fall through to unrecognized.
var commandHandlers = map[domain.IntentKind]commandHandler{
	domain.IntentLightOn:       (*Dispatcher).lightOn,
	domain.IntentLightOff:      (*Dispatcher).lightOff,
	domain.IntentSetColor:      (*Dispatcher).setColor,
	domain.IntentSetBrightness: (*Dispatcher).setBrightness,
	domain.IntentSecondaryOn:   (*Dispatcher).secondaryOn,
	domain.IntentSecondaryOff:  (*Dispatcher).secondaryOff,
	domain.IntentArriveHome:    (*Dispatcher).arriveHome,
	domain.IntentLeaveHome:     (*Dispatcher).leaveHome,
}

func (d *Dispatcher) lightOn(ctx context.Context, s *domain.Session, _ domain.IntentEvent, rooms domain.RoomSet) domain.Reply {
	return d.run(ctx, s.ID, domain.Command{Action: domain.ActionTurnOn, Rooms: rooms})
}

func (d *Dispatcher) lightOff(ctx context.Context, s *domain.Session, _ domain.IntentEvent, rooms domain.RoomSet) domain.Reply {
	return d.run(ctx, s.ID, domain.Command{Action: domain.ActionTurnOff, Rooms: rooms})
}

func (d *Dispatcher) setColor(ctx context.Context, s *domain.Session, ev domain.IntentEvent, rooms domain.RoomSet) domain.Reply {
	color, ok := d.slots.Color(ev)
	if !ok {
		return domain.EndReply(s.ID, d.replies.MissingColor)
	}
	return d.run(ctx, s.ID, domain.Command{Action: domain.ActionSetColor, Rooms: rooms, Color: color})
}

func (d *Dispatcher) setBrightness(ctx context.Context, s *domain.Session, ev domain.IntentEvent, rooms domain.RoomSet) domain.Reply {
	percent := d.slots.Percentage(ev, nil)
	if percent == nil {
		return domain.EndReply(s.ID, d.replies.MissingBrightness)
	}
	return d.run(ctx, s.ID, domain.Command{Action: domain.ActionSetBrightness, Rooms: rooms, Brightness: *percent})
}

func (d *Dispatcher) secondaryOn(ctx context.Context, s *domain.Session, _ domain.IntentEvent, _ domain.RoomSet) domain.Reply {
	return d.run(ctx, s.ID, domain.Command{Action: domain.ActionSecondaryOn})
}

func (d *Dispatcher) secondaryOff(ctx context.Context, s *domain.Session, _ domain.IntentEvent, _ domain.RoomSet) domain.Reply {
	return d.run(ctx, s.ID, domain.Command{Action: domain.ActionSecondaryOff})
}

func (d *Dispatcher) arriveHome(_ context.Context, s *domain.Session, _ domain.IntentEvent, _ domain.RoomSet) domain.Reply {
	return d.machine.Start(s, domain.Arriving)
}

func (d *Dispatcher) leaveHome(_ context.Context, s *domain.Session, _ domain.IntentEvent, _ domain.RoomSet) domain.Reply {
	return d.machine.Start(s, domain.Leaving)
}

func (d *Dispatcher) run(ctx context.Context, sessionID string, cmd domain.Command) domain.Reply {
	sentence, err := d.executor.Execute(ctx, cmd)
	if err != nil {
		return domain.EndReply(sessionID, d.replies.Failure)
	}
	return domain.EndReply(sessionID, sentence)
}

func (d *Dispatcher) unrecognized(ev domain.IntentEvent) (domain.Reply, bool) {
	if d.replies.UnknownIntent != "" {
		return domain.EndReply(ev.SessionID, d.replies.UnknownIntent), true
	}
	metrics.IgnoredIntentsTotal.Inc()
	d.logger.Debug("ignoring unrecognized intent", "session_id", ev.SessionID, "intent", ev.Name)
	return domain.Reply{}, false
}

// persist stores conversations and forgets command-mode sessions.
func (d *Dispatcher) persist(ctx context.Context, s *domain.Session) {
	var err error
	if s.Mode == domain.ModeConversation {
		err = d.store.Save(ctx, s)
	} else {
		err = d.store.Delete(ctx, s.ID)
	}
	if err != nil {
		d.logger.Error("persisting session", "session_id", s.ID, "mode", s.Mode, "error", err)
	}
}
