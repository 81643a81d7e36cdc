package tuya

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/infra"
)

var (
	ErrNoSecondary  = errors.New("secondary appliance not configured")
	ErrRoomNotFound = errors.New("no light found for room")
	ErrUnknownColor = errors.New("unknown color")
	ErrNoLights     = errors.New("no online lights")
)

type commandSender interface {
	SendCommands(ctx context.Context, deviceID string, commands []DeviceCommand) error
}

// Controller drives Tuya lights by room name, resolving rooms through the
// registry.
type Controller struct {
	client          commandSender
	registry        *Registry
	secondaryDevice string
}

func NewController(client commandSender, registry *Registry, secondaryDevice string) *Controller {
	return &Controller{
		client:          client,
		registry:        registry,
		secondaryDevice: secondaryDevice,
	}
}

func (c *Controller) LightOn(ctx context.Context, room string) error {
	return c.room(ctx, room, power(true))
}

func (c *Controller) LightOff(ctx context.Context, room string) error {
	return c.room(ctx, room, power(false))
}

func (c *Controller) LightOnAll(ctx context.Context) error {
	return c.all(ctx, power(true))
}

func (c *Controller) LightOffAll(ctx context.Context) error {
	return c.all(ctx, power(false))
}

func (c *Controller) SetColor(ctx context.Context, room, color string) error {
	cmds, err := colorCommands(color, 100)
	if err != nil {
		return err
	}
	return c.room(ctx, room, cmds)
}

func (c *Controller) SetColorAll(ctx context.Context, color string) error {
	cmds, err := colorCommands(color, 100)
	if err != nil {
		return err
	}
	return c.all(ctx, cmds)
}

func (c *Controller) SetBrightness(ctx context.Context, room string, percent int) error {
	return c.room(ctx, room, brightnessCommands(percent))
}

func (c *Controller) SetBrightnessAll(ctx context.Context, percent int) error {
	return c.all(ctx, brightnessCommands(percent))
}

func (c *Controller) SetAll(ctx context.Context, color string, percent int) error {
	cmds, err := colorCommands(color, percent)
	if err != nil {
		return err
	}
	return c.all(ctx, cmds)
}

func (c *Controller) SecondaryOn(ctx context.Context) error {
	return c.secondary(ctx, true)
}

func (c *Controller) SecondaryOff(ctx context.Context) error {
	return c.secondary(ctx, false)
}

func (c *Controller) room(ctx context.Context, room string, cmds []DeviceCommand) error {
	dev, ok := c.registry.FindLight(room)
	if !ok {
		return infra.Permanent(fmt.Errorf("%w: %s", ErrRoomNotFound, room))
	}
	return c.client.SendCommands(ctx, dev.ID, cmds)
}

func (c *Controller) all(ctx context.Context, cmds []DeviceCommand) error {
	lights := c.registry.Lights()
	if len(lights) == 0 {
		return ErrNoLights
	}

	var errs []error
	for _, dev := range lights {
		if err := c.client.SendCommands(ctx, dev.ID, cmds); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dev.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) secondary(ctx context.Context, on bool) error {
	if c.secondaryDevice == "" {
		return ErrNoSecondary
	}
	dev, ok := c.registry.FindDeviceByName(c.secondaryDevice)
	if !ok {
		return fmt.Errorf("secondary device %q not found", c.secondaryDevice)
	}

	code := "switch_1"
	if dev.Type == domain.DeviceTypeLight {
		code = "switch_led"
	}
	return c.client.SendCommands(ctx, dev.ID, []DeviceCommand{{Code: code, Value: on}})
}

func power(on bool) []DeviceCommand {
	return []DeviceCommand{{Code: "switch_led", Value: on}}
}

// tuyaLevel maps 0-100 percent onto the 10-1000 range of *_v2 data points.
func tuyaLevel(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return 10 + percent*990/100
}

func brightnessCommands(percent int) []DeviceCommand {
	return []DeviceCommand{
		{Code: "switch_led", Value: true},
		{Code: "work_mode", Value: "white"},
		{Code: "bright_value_v2", Value: tuyaLevel(percent)},
	}
}

var colorHues = map[string]int{
	"red":    0,
	"orange": 30,
	"yellow": 60,
	"green":  120,
	"cyan":   180,
	"blue":   240,
	"purple": 270,
	"pink":   300,
}

type hsv struct {
	H int `json:"h"`
	S int `json:"s"`
	V int `json:"v"`
}

func colorCommands(color string, percent int) ([]DeviceCommand, error) {
	name := strings.ToLower(strings.TrimSpace(color))
	if name == "white" {
		return brightnessCommands(percent), nil
	}

	hue, ok := colorHues[name]
	if !ok {
		return nil, infra.Permanent(fmt.Errorf("%w: %s", ErrUnknownColor, color))
	}

	return []DeviceCommand{
		{Code: "switch_led", Value: true},
		{Code: "work_mode", Value: "colour"},
		{Code: "colour_data_v2", Value: hsv{H: hue, S: 1000, V: tuyaLevel(percent)}},
	}, nil
}
