// Package dialogue implements the guided arrival/departure conversation.
//
// A conversation collects answers across turns (lights on?, color,
// brightness and optionally a secondary appliance) and commits them as one
// composite action. The Machine only mutates the Session it is handed; the
// caller owns storage and serializes turns per session.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/metrics"
	"home-orchestrator/internal/slots"
)

// Executor runs a resolved command against the devices.
type Executor interface {
	Execute(ctx context.Context, cmd domain.Command) (string, error)
}

type Machine struct {
	script Script
	vocab  *domain.Vocabulary
	slots  *slots.Extractor
	exec   Executor
	logger *slog.Logger
}

func NewMachine(script Script, vocab *domain.Vocabulary, extractor *slots.Extractor, exec Executor, logger *slog.Logger) *Machine {
	return &Machine{
		script: script.WithDefaults(),
		vocab:  vocab,
		slots:  extractor,
		exec:   exec,
		logger: logger,
	}
}

// Start opens a conversation and asks whether the lights should be on.
func (m *Machine) Start(s *domain.Session, dir domain.Direction) domain.Reply {
	s.Begin(dir, domain.AskLightsOn)
	metrics.ConversationsStartedTotal.WithLabelValues(dir.String()).Inc()

	greeting := m.script.Prompts.GreetArriving
	if dir == domain.Leaving {
		greeting = m.script.Prompts.GreetLeaving
	}

	m.logger.Debug("conversation started", "session_id", s.ID, "direction", dir)
	return domain.ContinueReply(s.ID, greeting, m.vocab.Name(domain.IntentGiveAnswer))
}

// HandleIntent advances a conversation by one turn. Slots present in the
// event are recorded whatever the pending question is; absent slots keep
// earlier answers.
func (m *Machine) HandleIntent(ctx context.Context, s *domain.Session, ev domain.IntentEvent) domain.Reply {
	m.absorb(s, ev)
	answer, _ := m.slots.Answer(ev)

	m.logger.Debug("conversation turn",
		"session_id", s.ID,
		"pending", s.PendingQuestion,
		"intent", ev.Name,
		"answer", answer,
	)

	switch s.PendingQuestion {
	case domain.AskLightsOn:
		yes := answer == "yes"
		s.Collected.LightOn = &yes
		if yes {
			s.Ask(domain.AskColor)
			return domain.ContinueReply(s.ID, m.script.Prompts.AskColor, m.vocab.Name(domain.IntentSetColor))
		}
		if m.script.AskSecondary && m.script.SecondaryAfterDecline {
			return m.askSecondary(s)
		}
		return m.finalize(ctx, s)

	case domain.AskColor:
		s.Ask(domain.AskBrightness)
		return domain.ContinueReply(s.ID, m.script.Prompts.AskBrightness, m.vocab.Name(domain.IntentSetBrightness))

	case domain.AskBrightness:
		if m.script.AskSecondary {
			return m.askSecondary(s)
		}
		return m.finalize(ctx, s)

	case domain.AskSecondaryOn:
		yes := answer == "yes"
		s.Collected.SecondaryOn = &yes
		return m.finalize(ctx, s)

	default:
		m.logger.Warn("conversation without pending question, resetting", "session_id", s.ID)
		s.Reset()
		return domain.EndReply(s.ID, m.script.Prompts.Close)
	}
}

// Expire abandons a conversation that was left unanswered.
func (m *Machine) Expire(s *domain.Session) {
	if s.Mode != domain.ModeConversation {
		return
	}
	metrics.ConversationsFinishedTotal.WithLabelValues("expired").Inc()
	m.logger.Info("conversation expired", "session_id", s.ID, "pending", s.PendingQuestion)
	s.Reset()
}

func (m *Machine) absorb(s *domain.Session, ev domain.IntentEvent) {
	if color, ok := m.slots.Color(ev); ok {
		s.Collected.Color = &color
	}
	s.Collected.Brightness = m.slots.Percentage(ev, s.Collected.Brightness)
}

func (m *Machine) askSecondary(s *domain.Session) domain.Reply {
	s.Ask(domain.AskSecondaryOn)
	prompt := m.script.Prompts.AskSecondary
	if strings.Contains(prompt, "%s") {
		prompt = fmt.Sprintf(prompt, m.script.SecondaryName)
	}
	return domain.ContinueReply(s.ID, prompt, m.vocab.Name(domain.IntentGiveAnswer))
}

func (m *Machine) finalize(ctx context.Context, s *domain.Session) domain.Reply {
	closing := m.closing(s.Direction)
	cmds := FinalCommands(s.Collected, s.SecondaryAsked)

	var failed bool
	for _, cmd := range cmds {
		if _, err := m.exec.Execute(ctx, cmd); err != nil {
			m.logger.Error("conversation action failed",
				"session_id", s.ID,
				"action", cmd.Action,
				"error", err,
			)
			failed = true
		}
	}

	id := s.ID
	s.Reset()

	if failed {
		metrics.ConversationsFinishedTotal.WithLabelValues("failed").Inc()
		return domain.EndReply(id, m.script.Prompts.Failure)
	}
	metrics.ConversationsFinishedTotal.WithLabelValues("completed").Inc()
	return domain.EndReply(id, closing)
}

func (m *Machine) closing(dir domain.Direction) string {
	if !m.script.DistinguishDirection {
		return m.script.Prompts.Close
	}
	if dir == domain.Leaving {
		return m.script.Prompts.CloseLeaving
	}
	return m.script.Prompts.CloseArriving
}

// FinalCommands turns collected answers into the composite all-rooms action.
func FinalCommands(c domain.Collected, secondaryAsked bool) []domain.Command {
	var cmds []domain.Command

	if c.LightOn != nil && *c.LightOn {
		switch {
		case c.Color != nil && c.Brightness != nil:
			cmds = append(cmds, domain.Command{Action: domain.ActionSetAll, Color: *c.Color, Brightness: *c.Brightness})
		case c.Color != nil:
			cmds = append(cmds, domain.Command{Action: domain.ActionSetColor, Color: *c.Color})
		case c.Brightness != nil:
			cmds = append(cmds, domain.Command{Action: domain.ActionSetBrightness, Brightness: *c.Brightness})
		default:
			cmds = append(cmds, domain.Command{Action: domain.ActionTurnOn})
		}
	} else {
		cmds = append(cmds, domain.Command{Action: domain.ActionTurnOff})
	}

	if secondaryAsked {
		if c.SecondaryOn != nil && *c.SecondaryOn {
			cmds = append(cmds, domain.Command{Action: domain.ActionSecondaryOn})
		} else {
			cmds = append(cmds, domain.Command{Action: domain.ActionSecondaryOff})
		}
	}

	return cmds
}
