// Package config defines the release processor configuration: the named
// repository remotes, the work root, publisher tool settings, and optional
// daemon/event/history settings. A Config is constructed once at process start
// and passed into the components that need it; core logic never reads ambient
// globals.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// WorkFolder is the root under which every repository checkout lives.
	WorkFolder string `yaml:"work_folder"`

	// Named repository remotes. The local path of each is derived from
	// WorkFolder plus a fixed folder name, never configured per run.
	IGRepo                string `yaml:"ig_repo"`
	HistoryTemplateRepo   string `yaml:"history_template_repo"`
	IGRegistryRepo        string `yaml:"ig_registry_repo"`
	CurrentWebContentRepo string `yaml:"current_web_content_repo"`

	Sync      SyncConfig      `yaml:"sync,omitempty"`
	Publisher PublisherConfig `yaml:"publisher,omitempty"`
	Daemon    DaemonConfig    `yaml:"daemon,omitempty"`
	Events    EventsConfig    `yaml:"events,omitempty"`
	History   HistoryConfig   `yaml:"history,omitempty"`
}

// SyncConfig holds repository synchronization tuning knobs.
type SyncConfig struct {
	// TimeoutPerRepo bounds each clone/fetch; the underlying transfer is
	// aborted when exceeded. Duration string, default 60s.
	TimeoutPerRepo string `yaml:"timeout_per_repo,omitempty"`
	// MaxRetries is the number of retry attempts for transient sync failures.
	MaxRetries int `yaml:"max_retries,omitempty"`
	// RetryInitialDelay is the base backoff delay (duration string, default 1s).
	RetryInitialDelay string `yaml:"retry_initial_delay,omitempty"`
	// RetryMaxDelay caps backoff growth (duration string, default 30s).
	RetryMaxDelay string `yaml:"retry_max_delay,omitempty"`
}

// TimeoutPerRepoDuration parses TimeoutPerRepo, falling back to 60s.
func (s SyncConfig) TimeoutPerRepoDuration() time.Duration {
	if d, err := time.ParseDuration(s.TimeoutPerRepo); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

// PublisherConfig describes the external IG publisher tool.
type PublisherConfig struct {
	// JarPath is where the publisher jar lives (downloaded when missing).
	JarPath string `yaml:"jar_path,omitempty"`
	// DownloadURL is the versioned release URL the jar is fetched from.
	DownloadURL string `yaml:"download_url,omitempty"`
	// JavaHeap is passed as -Xmx to the JVM (default 4g).
	JavaHeap string `yaml:"java_heap,omitempty"`
}

// DaemonConfig configures the optional daemon mode.
type DaemonConfig struct {
	// SyncInterval between scheduled repository syncs (duration string, default 15m).
	SyncInterval string `yaml:"sync_interval,omitempty"`
	// ListenAddr for the metrics/health HTTP endpoint (default :9180).
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// SyncIntervalDuration parses SyncInterval, falling back to 15m.
func (d DaemonConfig) SyncIntervalDuration() time.Duration {
	if v, err := time.ParseDuration(d.SyncInterval); err == nil && v > 0 {
		return v
	}
	return 15 * time.Minute
}

// EventsConfig configures the optional NATS stage-event publisher.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// HistoryConfig configures the build-run history store.
type HistoryConfig struct {
	// DBPath is the SQLite database path; empty disables persistence.
	DBPath string `yaml:"db_path,omitempty"`
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists so ${VAR} expansion below can see it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.WorkFolder == "" {
		c.WorkFolder = "."
	}
	if c.Sync.TimeoutPerRepo == "" {
		c.Sync.TimeoutPerRepo = "60s"
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 2
	}
	if c.Publisher.JarPath == "" {
		c.Publisher.JarPath = "./publisher.jar"
	}
	if c.Publisher.DownloadURL == "" {
		c.Publisher.DownloadURL = "https://github.com/HL7/fhir-ig-publisher/releases/latest/download/publisher.jar"
	}
	if c.Publisher.JavaHeap == "" {
		c.Publisher.JavaHeap = "4g"
	}
	if c.Daemon.ListenAddr == "" {
		c.Daemon.ListenAddr = ":9180"
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "igrelease.builds"
	}
}

// Validate checks that the configuration is usable for a build.
func (c *Config) Validate() error {
	if c.IGRepo == "" {
		return fmt.Errorf("ig_repo is required")
	}
	if c.Sync.TimeoutPerRepo != "" {
		if _, err := time.ParseDuration(c.Sync.TimeoutPerRepo); err != nil {
			return fmt.Errorf("invalid sync.timeout_per_repo: %w", err)
		}
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required when events are enabled")
	}
	return nil
}

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := `# IG release processor configuration
work_folder: ./work

ig_repo: https://github.com/example/my-ig.git
history_template_repo: https://github.com/HL7/fhir-ig-history-template.git
ig_registry_repo: https://github.com/FHIR/ig-registry.git
current_web_content_repo: https://github.com/example/web-content.git

sync:
  timeout_per_repo: 60s

publisher:
  jar_path: ./publisher.jar
  java_heap: 4g

history:
  db_path: ./igrelease-history.db
`
	if err := os.WriteFile(configPath, []byte(example), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
