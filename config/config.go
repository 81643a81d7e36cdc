package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"home-orchestrator/internal/dialogue"
	"home-orchestrator/internal/domain"
	"home-orchestrator/internal/session"
	"home-orchestrator/internal/slots"
)

type Config struct {
	Bus           BusConfig           `yaml:"bus"`
	HTTP          HTTPConfig          `yaml:"http"`
	Intents       IntentsConfig       `yaml:"intents"`
	Dialogue      DialogueConfig      `yaml:"dialogue"`
	Devices       DevicesConfig       `yaml:"devices"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Tuya          TuyaConfig          `yaml:"tuya"`
	Session       SessionConfig       `yaml:"session"`
	Pushover      PushoverConfig      `yaml:"pushover"`
	Log           LogConfig           `yaml:"log"`
}

type BusConfig struct {
	// Source is websocket, file or none (HTTP ingest only).
	Source         string        `yaml:"source"`
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	FileDir        string        `yaml:"file_dir"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type HTTPConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	AuthToken     string `yaml:"auth_token"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

type IntentsConfig struct {
	NamespaceSeparator string `yaml:"namespace_separator"`
	StripNamespace     *bool  `yaml:"strip_namespace"`
	// Names maps intent kinds (light_on, set_color, give_answer, ...) to the
	// names emitted by the NLU provider.
	Names map[string]string `yaml:"names"`
	Slots slots.Names       `yaml:"slots"`
}

type DialogueConfig struct {
	dialogue.Script    `yaml:",inline"`
	UnknownIntentReply string `yaml:"unknown_intent_reply"`
	MissingColor       string `yaml:"missing_color"`
	MissingBrightness  string `yaml:"missing_brightness"`
}

type DevicesConfig struct {
	// Backend is homeassistant or tuya.
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
}

type HomeAssistantConfig struct {
	URL               string `yaml:"url"`
	Token             string `yaml:"token"`
	LightEntityFormat string `yaml:"light_entity_format"`
	SecondaryEntity   string `yaml:"secondary_entity"`
}

type TuyaConfig struct {
	ClientID        string        `yaml:"client_id"`
	Secret          string        `yaml:"secret"`
	Region          string        `yaml:"region"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	SecondaryDevice string        `yaml:"secondary_device"`
}

type SessionConfig struct {
	// Store is memory or redis.
	Store         string              `yaml:"store"`
	IdleTimeout   time.Duration       `yaml:"idle_timeout"`
	SweepInterval time.Duration       `yaml:"sweep_interval"`
	Redis         session.RedisConfig `yaml:"redis"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references in data and decodes it. Dialogue flags
// start from dialogue.DefaultScript so omitted keys keep their defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Config{Dialogue: DialogueConfig{Script: dialogue.DefaultScript()}}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Bus.Source == "" {
		c.Bus.Source = "websocket"
	}
	if c.Bus.FileDir == "" {
		c.Bus.FileDir = "./intents"
	}
	if c.Bus.PollInterval == 0 {
		c.Bus.PollInterval = 500 * time.Millisecond
	}
	if c.Bus.ReconnectDelay == 0 {
		c.Bus.ReconnectDelay = time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RatePerMinute == 0 {
		c.HTTP.RatePerMinute = 60
	}
	if c.Intents.NamespaceSeparator == "" {
		c.Intents.NamespaceSeparator = ":"
	}
	if c.Intents.StripNamespace == nil {
		strip := true
		c.Intents.StripNamespace = &strip
	}
	defaults := slots.DefaultNames()
	fill(&c.Intents.Slots.Room, defaults.Room)
	fill(&c.Intents.Slots.Color, defaults.Color)
	fill(&c.Intents.Slots.Percent, defaults.Percent)
	fill(&c.Intents.Slots.Answer, defaults.Answer)
	c.Dialogue.Script = c.Dialogue.Script.WithDefaults()
	if c.Devices.Backend == "" {
		c.Devices.Backend = "homeassistant"
	}
	if c.Devices.Timeout == 0 {
		c.Devices.Timeout = 10 * time.Second
	}
	if c.HomeAssistant.LightEntityFormat == "" {
		c.HomeAssistant.LightEntityFormat = "light.%s"
	}
	if c.Tuya.Region == "" {
		c.Tuya.Region = "us"
	}
	if c.Tuya.SyncInterval == 0 {
		c.Tuya.SyncInterval = 5 * time.Minute
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = 2 * time.Minute
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func fill(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// Validate reports every configuration problem that would prevent startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.Bus.Source {
	case "websocket":
		if c.Bus.URL == "" {
			errs = append(errs, errors.New("bus.url is required for the websocket source"))
		}
	case "file":
	case "none":
		if !c.HTTP.Enabled {
			errs = append(errs, errors.New("bus.source none requires http.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bus.source %q", c.Bus.Source))
	}

	switch c.Devices.Backend {
	case "homeassistant":
		if c.HomeAssistant.URL == "" || c.HomeAssistant.Token == "" {
			errs = append(errs, errors.New("home_assistant.url and home_assistant.token are required"))
		}
		if strings.Count(c.HomeAssistant.LightEntityFormat, "%s") != 1 {
			errs = append(errs, errors.New("home_assistant.light_entity_format must contain exactly one %s"))
		}
	case "tuya":
		if c.Tuya.ClientID == "" || c.Tuya.Secret == "" {
			errs = append(errs, errors.New("tuya.client_id and tuya.secret are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown devices.backend %q", c.Devices.Backend))
	}

	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			errs = append(errs, errors.New("session.redis.addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session.store %q", c.Session.Store))
	}

	if c.Pushover.Enabled && (c.Pushover.Token == "" || c.Pushover.UserKey == "") {
		errs = append(errs, errors.New("pushover.token and pushover.user_key are required when pushover is enabled"))
	}

	for key := range c.Intents.Names {
		if _, ok := domain.ParseIntentKind(key); !ok {
			errs = append(errs, fmt.Errorf("unknown intent kind %q in intents.names", key))
		}
	}

	return errors.Join(errs...)
}

// Vocabulary builds the intent vocabulary: defaults overridden by intents.names.
func (c *Config) Vocabulary() *domain.Vocabulary {
	names := domain.DefaultIntentNames()
	for key, name := range c.Intents.Names {
		if kind, ok := domain.ParseIntentKind(key); ok {
			names[kind] = name
		}
	}
	strip := c.Intents.StripNamespace == nil || *c.Intents.StripNamespace
	return domain.NewVocabulary(names, c.Intents.NamespaceSeparator, strip)
}
