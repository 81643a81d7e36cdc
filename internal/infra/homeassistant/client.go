package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"home-orchestrator/internal/infra"
)

// ErrNoSecondary is returned when no secondary appliance entity is configured.
var ErrNoSecondary = errors.New("secondary appliance not configured")

// Options maps rooms and the secondary appliance to Home Assistant entities.
type Options struct {
	// LightEntityFormat turns a room name into an entity id, e.g. "light.%s".
	LightEntityFormat string
	// SecondaryEntity is the entity switched by SecondaryOn/Off, e.g. "switch.fan".
	SecondaryEntity string
}

type Client struct {
	baseURL    string
	token      string
	opts       Options
	retry      infra.RetryConfig
	httpClient *http.Client
}

func NewClient(baseURL, token string, opts Options) *Client {
	// Remove trailing slash if present
	baseURL = strings.TrimSuffix(baseURL, "/")
	if opts.LightEntityFormat == "" {
		opts.LightEntityFormat = "light.%s"
	}

	return &Client{
		baseURL:    baseURL,
		token:      token,
		opts:       opts,
		retry:      infra.DefaultRetryConfig(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// serviceCall is the JSON body of POST /api/services/<domain>/<service>.
type serviceCall struct {
	EntityID      string `json:"entity_id"`
	ColorName     string `json:"color_name,omitempty"`
	BrightnessPct *int   `json:"brightness_pct,omitempty"`
}

const allEntities = "all"

func (c *Client) LightOn(ctx context.Context, room string) error {
	return c.callService(ctx, "light", "turn_on", serviceCall{EntityID: c.lightEntity(room)})
}

func (c *Client) LightOff(ctx context.Context, room string) error {
	return c.callService(ctx, "light", "turn_off", serviceCall{EntityID: c.lightEntity(room)})
}

func (c *Client) LightOnAll(ctx context.Context) error {
	return c.callService(ctx, "light", "turn_on", serviceCall{EntityID: allEntities})
}

func (c *Client) LightOffAll(ctx context.Context) error {
	return c.callService(ctx, "light", "turn_off", serviceCall{EntityID: allEntities})
}

func (c *Client) SetColor(ctx context.Context, room, color string) error {
	return c.callService(ctx, "light", "turn_on", serviceCall{EntityID: c.lightEntity(room), ColorName: color})
}

func (c *Client) SetColorAll(ctx context.Context, color string) error {
	return c.callService(ctx, "light", "turn_on", serviceCall{EntityID: allEntities, ColorName: color})
}

func (c *Client) SetBrightness(ctx context.Context, room string, percent int) error {
	return c.callService(ctx, "light", "turn_on", serviceCall{EntityID: c.lightEntity(room), BrightnessPct: &percent})
}

func (c *Client) SetBrightnessAll(ctx context.Context, percent int) error {
	return c.callService(ctx, "light", "turn_on", serviceCall{EntityID: allEntities, BrightnessPct: &percent})
}

func (c *Client) SetAll(ctx context.Context, color string, percent int) error {
	return c.callService(ctx, "light", "turn_on", serviceCall{EntityID: allEntities, ColorName: color, BrightnessPct: &percent})
}

func (c *Client) SecondaryOn(ctx context.Context) error {
	return c.switchSecondary(ctx, "turn_on")
}

func (c *Client) SecondaryOff(ctx context.Context) error {
	return c.switchSecondary(ctx, "turn_off")
}

// Check verifies the URL and token against the API root.
func (c *Client) Check(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/", nil); err != nil {
		return fmt.Errorf("checking home assistant: %w", err)
	}
	return nil
}

func (c *Client) switchSecondary(ctx context.Context, service string) error {
	if c.opts.SecondaryEntity == "" {
		return ErrNoSecondary
	}
	// Determine entity domain from entity_id (e.g., "switch.fan" -> "switch")
	entityDomain := "switch"
	if parts := strings.SplitN(c.opts.SecondaryEntity, ".", 2); len(parts) == 2 {
		entityDomain = parts[0]
	}
	return c.callService(ctx, entityDomain, service, serviceCall{EntityID: c.opts.SecondaryEntity})
}

// lightEntity maps "living room" to "light.living_room". Values that already
// look like entity ids are passed through.
func (c *Client) lightEntity(room string) string {
	if strings.Contains(room, ".") {
		return room
	}
	slug := strings.ToLower(strings.TrimSpace(room))
	slug = strings.NewReplacer(" ", "_", "-", "_").Replace(slug)
	return fmt.Sprintf(c.opts.LightEntityFormat, slug)
}

func (c *Client) callService(ctx context.Context, entityDomain, service string, call serviceCall) error {
	body, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	path := fmt.Sprintf("/api/services/%s/%s", entityDomain, service)
	if _, err := c.doRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("calling %s.%s on %s: %w", entityDomain, service, call.EntityID, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var respBody []byte

	retryErr := infra.WithRetry(ctx, c.retry, func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return infra.Permanent(fmt.Errorf("unauthorized: check your Home Assistant token"))
		}

		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			return fmt.Errorf("home assistant API error %d (retryable): %s", resp.StatusCode, string(respBody))
		}

		if resp.StatusCode >= 400 {
			return infra.Permanent(fmt.Errorf("home assistant API error %d: %s", resp.StatusCode, string(respBody)))
		}

		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return respBody, nil
}
