package tuya

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"home-orchestrator/internal/domain"
)

type deviceLister interface {
	GetDevices(ctx context.Context) ([]domain.Device, error)
}

// Registry caches the device list and resolves spoken room names to devices.
type Registry struct {
	client deviceLister
	logger *slog.Logger

	mu          sync.RWMutex
	devices     []domain.Device
	deviceIndex map[string]*domain.Device
}

func NewRegistry(client deviceLister, logger *slog.Logger) *Registry {
	return &Registry{
		client:      client,
		logger:      logger,
		deviceIndex: make(map[string]*domain.Device),
	}
}

func (r *Registry) Sync(ctx context.Context) error {
	r.logger.Info("syncing devices from Tuya")

	devices, err := r.client.GetDevices(ctx)
	if err != nil {
		return fmt.Errorf("fetching devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = devices
	r.deviceIndex = make(map[string]*domain.Device)
	for i := range r.devices {
		key := strings.ToLower(r.devices[i].Name)
		r.deviceIndex[key] = &r.devices[i]
	}

	r.logger.Info("sync complete", "devices", len(r.devices))

	return nil
}

func (r *Registry) GetDevices() []domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.Device, len(r.devices))
	copy(result, r.devices)
	return result
}

// FindDeviceByName matches exactly (case-insensitive) first, then by substring.
func (r *Registry) FindDeviceByName(name string) (*domain.Device, bool) {
	return r.find(name, func(domain.Device) bool { return true })
}

// FindLight resolves a room name to a light, so "kitchen" finds "Kitchen Light".
func (r *Registry) FindLight(room string) (*domain.Device, bool) {
	return r.find(room, func(d domain.Device) bool { return d.Type == domain.DeviceTypeLight })
}

// Lights returns every online light.
func (r *Registry) Lights() []domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lights []domain.Device
	for _, d := range r.devices {
		if d.Type == domain.DeviceTypeLight && d.Online {
			lights = append(lights, d)
		}
	}
	return lights
}

func (r *Registry) find(name string, match func(domain.Device) bool) (*domain.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, false
	}

	if d, ok := r.deviceIndex[key]; ok && match(*d) {
		found := *d
		return &found, true
	}

	for _, d := range r.devices {
		if match(d) && strings.Contains(strings.ToLower(d.Name), key) {
			return &d, true
		}
	}

	return nil, false
}

func (r *Registry) Summary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, d := range r.devices {
		status := "offline"
		if d.Online {
			status = "online"
		}
		sb.WriteString(fmt.Sprintf("- %s (type: %s, %s)\n", d.Name, d.Type, status))
	}
	return sb.String()
}

func (r *Registry) StartPeriodicSync(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Sync(ctx); err != nil {
					r.logger.Error("periodic sync failed", "error", err)
				}
			}
		}
	}()
}
