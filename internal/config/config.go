package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"filingkit/pkg/logger"
)

// FileName is the config file looked up in the workspace.
const FileName = "filingkit.yml"

// Config models filingkit.yml.
type Config struct {
	Server   Server        `yaml:"server"`
	Auth     Auth          `yaml:"auth"`
	Fetch    Fetch         `yaml:"fetch"`
	Storage  Storage       `yaml:"storage"`
	Webhooks []Webhook     `yaml:"webhooks"`
	Log      logger.Config `yaml:"log"`
}

type Server struct {
	Addr        string   `yaml:"addr"`
	BasePath    string   `yaml:"base_path"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Auth struct {
	// SharedSecret is usually supplied through FILINGKIT_SHARED_SECRET.
	SharedSecret string `yaml:"shared_secret"`
}

type Fetch struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	MaxBytes  int64         `yaml:"max_bytes"`
	Offline   bool          `yaml:"offline"`
}

type Storage struct {
	Backend string `yaml:"backend"`
	Minio   Minio  `yaml:"minio"`
}

type Minio struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Webhook receives audit events as JSON POSTs. Events filters by event type;
// empty means all. Secret signs each body with HMAC-SHA256.
type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Active reports whether the hook is enabled and has a URL.
func (w Webhook) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

// Storage backends.
const (
	BackendLocal = "local"
	BackendMinio = "minio"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with filingkit config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("config.fetch.timeout must be positive")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("config.fetch.max_bytes must be positive")
	}
	switch c.Storage.Backend {
	case BackendLocal:
	case BackendMinio:
		if c.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("config.storage.minio.endpoint is required")
		}
		if c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("config.storage.minio.bucket is required")
		}
	default:
		return fmt.Errorf("config.storage.backend must be %q or %q", BackendLocal, BackendMinio)
	}
	for i, hook := range c.Webhooks {
		if !hook.Active() {
			continue
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  cors_origins: ["*"]

auth:
  # set FILINGKIT_SHARED_SECRET instead of committing a secret here
  shared_secret: ""

fetch:
  timeout: 10s
  user_agent: ""
  max_bytes: 20971520
  offline: false

storage:
  backend: local
  minio:
    endpoint: localhost:9000
    access_key: minioadmin
    secret_key: minioadmin
    bucket: filingkit
    use_ssl: false

# webhooks:
#   - url: https://example.com/hooks/filingkit
#     events: [documents.generated]
#     secret: change-me
webhooks: []

log:
  level: info
  format: text
`
