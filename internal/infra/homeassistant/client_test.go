package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"home-orchestrator/internal/infra"
)

type recordedCall struct {
	Path string
	Body map[string]any
}

type fakeHomeAssistant struct {
	mu     sync.Mutex
	calls  []recordedCall
	status int
}

func (f *fakeHomeAssistant) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var body map[string]any
		if r.Body != nil && r.Method == http.MethodPost {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decoding body: %v", err)
			}
		}

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{Path: r.URL.Path, Body: body})
		status := f.status
		f.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}
}

func newTestClient(t *testing.T, fake *fakeHomeAssistant, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	client := NewClient(server.URL+"/", "test-token", opts)
	client.retry = infra.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return client
}

func TestClient_LightOnRoom(t *testing.T) {
	fake := &fakeHomeAssistant{}
	client := newTestClient(t, fake, Options{})

	require.NoError(t, client.LightOn(context.Background(), "Living Room"))

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "/api/services/light/turn_on", fake.calls[0].Path)
	assert.Equal(t, "light.living_room", fake.calls[0].Body["entity_id"])
}

func TestClient_AllRoomsOperations(t *testing.T) {
	fake := &fakeHomeAssistant{}
	client := newTestClient(t, fake, Options{})
	ctx := context.Background()

	require.NoError(t, client.LightOffAll(ctx))
	require.NoError(t, client.SetAll(ctx, "blue", 70))

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "/api/services/light/turn_off", fake.calls[0].Path)
	assert.Equal(t, "all", fake.calls[0].Body["entity_id"])

	assert.Equal(t, "/api/services/light/turn_on", fake.calls[1].Path)
	assert.Equal(t, map[string]any{
		"entity_id":      "all",
		"color_name":     "blue",
		"brightness_pct": float64(70),
	}, fake.calls[1].Body)
}

func TestClient_SetBrightnessZeroIsSent(t *testing.T) {
	fake := &fakeHomeAssistant{}
	client := newTestClient(t, fake, Options{LightEntityFormat: "light.%s_ceiling"})

	require.NoError(t, client.SetBrightness(context.Background(), "den", 0))

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "light.den_ceiling", fake.calls[0].Body["entity_id"])
	assert.Equal(t, float64(0), fake.calls[0].Body["brightness_pct"])
}

func TestClient_Secondary(t *testing.T) {
	fake := &fakeHomeAssistant{}
	client := newTestClient(t, fake, Options{SecondaryEntity: "fan.bedroom"})

	require.NoError(t, client.SecondaryOn(context.Background()))
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "/api/services/fan/turn_on", fake.calls[0].Path)
	assert.Equal(t, "fan.bedroom", fake.calls[0].Body["entity_id"])

	unconfigured := newTestClient(t, &fakeHomeAssistant{}, Options{})
	assert.ErrorIs(t, unconfigured.SecondaryOff(context.Background()), ErrNoSecondary)
}

func TestClient_UnauthorizedIsNotRetried(t *testing.T) {
	fake := &fakeHomeAssistant{}
	client := newTestClient(t, fake, Options{})
	client.token = "wrong"

	err := client.LightOnAll(context.Background())
	require.Error(t, err)
	assert.True(t, infra.IsPermanent(err))
}

func TestClient_ServerErrorsAreRetried(t *testing.T) {
	fake := &fakeHomeAssistant{status: http.StatusBadGateway}
	client := newTestClient(t, fake, Options{})

	err := client.LightOnAll(context.Background())
	require.Error(t, err)
	assert.Len(t, fake.calls, 2)
}

func TestClient_Check(t *testing.T) {
	fake := &fakeHomeAssistant{}
	client := newTestClient(t, fake, Options{})

	require.NoError(t, client.Check(context.Background()))
	assert.Equal(t, "/api/", fake.calls[0].Path)
}
