package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/metrics"
)

// ErrActionFailed marks a command whose device calls did not all succeed.
var ErrActionFailed = errors.New("device action failed")

// Executor translates commands into DeviceController calls and builds the
// confirmation sentence.
type Executor struct {
	devices       DeviceController
	notifier      Notifier
	timeout       time.Duration
	secondaryName string
	logger        *slog.Logger
}

func NewExecutor(devices DeviceController, notifier Notifier, timeout time.Duration, secondaryName string, logger *slog.Logger) *Executor {
	if notifier == nil {
		notifier = &NoopNotifier{}
	}
	if secondaryName == "" {
		secondaryName = "fan"
	}
	return &Executor{
		devices:       devices,
		notifier:      notifier,
		timeout:       timeout,
		secondaryName: secondaryName,
		logger:        logger,
	}
}

// Execute runs cmd. Per-room calls continue after a failure so every room is
// attempted; any failure is reported as ErrActionFailed and no sentence.
func (e *Executor) Execute(ctx context.Context, cmd domain.Command) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var errs []error
	call := func(op string, fn func(context.Context) error) {
		err := fn(ctx)
		metrics.DeviceCallsTotal.WithLabelValues(op, metrics.Result(err)).Inc()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", op, err))
		}
	}

	rooms := joinRooms(cmd.Rooms)
	var sentence string

	switch cmd.Action {
	case domain.ActionTurnOn:
		if cmd.Rooms.All() {
			call("light_on_all", e.devices.LightOnAll)
			sentence = "lights on"
			break
		}
		for _, room := range cmd.Rooms {
			call("light_on", func(ctx context.Context) error { return e.devices.LightOn(ctx, room) })
		}
		sentence = fmt.Sprintf("turning on the %s lights", rooms)

	case domain.ActionTurnOff:
		if cmd.Rooms.All() {
			call("light_off_all", e.devices.LightOffAll)
			sentence = "lights off"
			break
		}
		for _, room := range cmd.Rooms {
			call("light_off", func(ctx context.Context) error { return e.devices.LightOff(ctx, room) })
		}
		sentence = fmt.Sprintf("turning off the %s lights", rooms)

	case domain.ActionSetColor:
		if cmd.Rooms.All() {
			call("set_color_all", func(ctx context.Context) error { return e.devices.SetColorAll(ctx, cmd.Color) })
			sentence = "changing lights to " + cmd.Color
			break
		}
		for _, room := range cmd.Rooms {
			call("set_color", func(ctx context.Context) error { return e.devices.SetColor(ctx, room, cmd.Color) })
		}
		sentence = fmt.Sprintf("changing the %s lights to %s", rooms, cmd.Color)

	case domain.ActionSetBrightness:
		if cmd.Rooms.All() {
			call("set_brightness_all", func(ctx context.Context) error { return e.devices.SetBrightnessAll(ctx, cmd.Brightness) })
			sentence = fmt.Sprintf("setting light brightness to %d", cmd.Brightness)
			break
		}
		for _, room := range cmd.Rooms {
			call("set_brightness", func(ctx context.Context) error { return e.devices.SetBrightness(ctx, room, cmd.Brightness) })
		}
		sentence = fmt.Sprintf("setting the %s lights to %d", rooms, cmd.Brightness)

	case domain.ActionSetAll:
		call("set_all", func(ctx context.Context) error { return e.devices.SetAll(ctx, cmd.Color, cmd.Brightness) })
		sentence = fmt.Sprintf("setting lights to %s at %d percent", cmd.Color, cmd.Brightness)

	case domain.ActionSecondaryOn:
		call("secondary_on", e.devices.SecondaryOn)
		sentence = "turning on the " + e.secondaryName

	case domain.ActionSecondaryOff:
		call("secondary_off", e.devices.SecondaryOff)
		sentence = "turning off the " + e.secondaryName

	default:
		return "", fmt.Errorf("unsupported action %q", cmd.Action)
	}

	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", ErrActionFailed, errors.Join(errs...))
		e.logger.Error("executing command", "action", cmd.Action, "rooms", cmd.Rooms, "error", err)
		if notifyErr := e.notifier.Notify(context.WithoutCancel(ctx), fmt.Sprintf("Error: %s", err.Error())); notifyErr != nil {
			e.logger.Error("notifying error", "error", notifyErr)
		}
		return "", err
	}

	e.logger.Info("command executed", "action", cmd.Action, "rooms", cmd.Rooms)
	return sentence, nil
}

// joinRooms renders "kitchen", "kitchen and den", "kitchen, den and hall".
func joinRooms(rooms domain.RoomSet) string {
	switch len(rooms) {
	case 0:
		return ""
	case 1:
		return rooms[0]
	default:
		return strings.Join(rooms[:len(rooms)-1], ", ") + " and " + rooms[len(rooms)-1]
	}
}
