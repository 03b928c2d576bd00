package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "ttsync.yaml"

// Duration is a time.Duration that reads human forms such as "1s", "200ms" or "1m 30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ParseDuration accepts Go duration syntax plus day/week units and embedded spaces.
func ParseDuration(s string) (time.Duration, error) {
	compact := strings.Join(strings.Fields(s), "")
	if compact == "" {
		return 0, errors.New("empty duration")
	}
	return str2duration.ParseDuration(compact)
}

// Config is the top-level application configuration.
type Config struct {
	// TimeZone is the IANA zone events are placed in (e.g. "Europe/London").
	TimeZone string `yaml:"timezone"`
	// Listen is the HTTP listen address used by the serve command.
	Listen string `yaml:"listen"`

	Log    Log    `yaml:"log"`
	Google Google `yaml:"google"`
	ICloud ICloud `yaml:"icloud"`
	AI     AI     `yaml:"ai"`
	Sync   Sync   `yaml:"sync"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type Google struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	TokenFile    string `yaml:"token_file"`
}

type ICloud struct {
	Endpoint     string `yaml:"endpoint"` // empty means iCloud
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CalendarName string `yaml:"calendar_name"`
}

// AI holds language-model provider settings. The provider is picked by
// whichever key is set, OpenAI first.
type AI struct {
	OpenAIKey     string   `yaml:"openai_key"`
	OpenAIModel   string   `yaml:"openai_model"`
	OpenAIBaseURL string   `yaml:"openai_base_url"`
	GeminiKey     string   `yaml:"gemini_key"`
	GeminiModel   string   `yaml:"gemini_model"`
	GeminiBaseURL string   `yaml:"gemini_base_url"`
	Temperature   float64  `yaml:"temperature"`
	MaxTokens     int      `yaml:"max_tokens"`
	Timeout       Duration `yaml:"timeout"`
}

// Sync holds the batch pacing for calendar writes.
type Sync struct {
	BatchSize    int      `yaml:"batch_size"`
	RequestDelay Duration `yaml:"request_delay"`
	BatchDelay   Duration `yaml:"batch_delay"`
	RepeatWeeks  int      `yaml:"repeat_weeks"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		TimeZone: "UTC",
		Listen:   "127.0.0.1:8080",
		Log:      Log{Level: "info", Format: "text"},
		Google: Google{
			RedirectURL: "urn:ietf:wg:oauth:2.0:oob",
			TokenFile:   "token.json",
		},
		AI: AI{
			OpenAIModel:   "gpt-4o-mini",
			OpenAIBaseURL: "https://api.openai.com/v1",
			GeminiModel:   "gemini-1.5-flash",
			GeminiBaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Temperature:   0.1,
			MaxTokens:     4000,
			Timeout:       Duration(60 * time.Second),
		},
		Sync: Sync{
			BatchSize:    5,
			RequestDelay: Duration(200 * time.Millisecond),
			BatchDelay:   Duration(time.Second),
		},
	}
}

// Normalize fills in missing/zero values so partially-filled files still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.TimeZone == "" {
		c.TimeZone = def.TimeZone
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = def.Google.RedirectURL
	}
	if c.Google.TokenFile == "" {
		c.Google.TokenFile = def.Google.TokenFile
	}
	if c.AI.OpenAIModel == "" {
		c.AI.OpenAIModel = def.AI.OpenAIModel
	}
	if c.AI.OpenAIBaseURL == "" {
		c.AI.OpenAIBaseURL = def.AI.OpenAIBaseURL
	}
	if c.AI.GeminiModel == "" {
		c.AI.GeminiModel = def.AI.GeminiModel
	}
	if c.AI.GeminiBaseURL == "" {
		c.AI.GeminiBaseURL = def.AI.GeminiBaseURL
	}
	if c.AI.Temperature < 0 {
		c.AI.Temperature = def.AI.Temperature
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = def.AI.MaxTokens
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = def.AI.Timeout
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = def.Sync.BatchSize
	}
	if c.Sync.RequestDelay < 0 {
		c.Sync.RequestDelay = def.Sync.RequestDelay
	}
	if c.Sync.BatchDelay < 0 {
		c.Sync.BatchDelay = def.Sync.BatchDelay
	}
	if c.Sync.RepeatWeeks < 0 {
		c.Sync.RepeatWeeks = 0
	}
}

// Load reads the YAML file at path, then applies environment overrides.
// A missing file is not an error: defaults are used instead.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			// Unmarshal over the defaults so omitted keys keep their default.
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.TimeZone, err)
	}
	return loc, nil
}

// AIConfigured reports whether any language-model key is present.
func (c *Config) AIConfigured() bool {
	return c.AI.OpenAIKey != "" || c.AI.GeminiKey != ""
}

func (c *Config) applyEnv() error {
	setString(&c.TimeZone, "PRIMARY_TIMEZONE")
	setString(&c.Listen, "LISTEN_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	setString(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Google.RedirectURL, "GOOGLE_REDIRECT_URL")
	setString(&c.Google.TokenFile, "TOKEN_FILE")

	setString(&c.ICloud.Endpoint, "CALDAV_ENDPOINT")
	setString(&c.ICloud.Username, "ICLOUD_USERNAME")
	setString(&c.ICloud.Password, "ICLOUD_APP_SPECIFIC_PASSWORD")
	setString(&c.ICloud.CalendarName, "ICLOUD_CALENDAR_NAME")

	setString(&c.AI.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.AI.OpenAIModel, "OPENAI_MODEL")
	setString(&c.AI.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&c.AI.GeminiKey, "GEMINI_API_KEY")
	setString(&c.AI.GeminiModel, "GEMINI_MODEL")
	setString(&c.AI.GeminiBaseURL, "GEMINI_BASE_URL")

	if v := os.Getenv("SYNC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SYNC_BATCH_SIZE '%s': %w", v, err)
		}
		c.Sync.BatchSize = n
	}
	for _, d := range []struct {
		key string
		dst *Duration
	}{
		{"SYNC_REQUEST_DELAY", &c.Sync.RequestDelay},
		{"SYNC_BATCH_DELAY", &c.Sync.BatchDelay},
		{"AI_TIMEOUT", &c.AI.Timeout},
	} {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.key, v, err)
		}
		*d.dst = Duration(parsed)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
