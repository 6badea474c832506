package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const DefaultOrganizationsDir = "config/organizations"

type Config struct {
	Database      DatabaseConfig
	Scheduler     SchedulerConfig
	Scraper       ScraperConfig
	Detection     DetectionConfig
	Batch         BatchConfig
	Media         MediaConfig
	Proxy         ProxyConfig
	DBPath        string
	LogPath       string
	LogLevel      string
	Organizations map[string]*OrganizationConfig
}

type DatabaseConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	DelayMS        int
	RunTimeout     time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   float64
}

// DetectionConfig holds the staleness and failure-detection thresholds.
type DetectionConfig struct {
	MissingThreshold    int     `yaml:"missing_threshold"`
	PartialThresholdPct float64 `yaml:"partial_threshold_pct"`
	AbsoluteMinimum     int     `yaml:"absolute_minimum"`
	HistoricalSamples   int     `yaml:"historical_samples"`
}

type BatchConfig struct {
	SmallBatchCeiling int
	MaxBatchSize      int
	MinBatchSize      int
	SkipFailureRate   float64
}

type MediaConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	HealthWindow    int
	HealthTTL       time.Duration
}

type ProxyConfig struct {
	URL string
}

// OrganizationConfig describes one source organization and how to collect it.
type OrganizationConfig struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	Collector    string           `yaml:"collector"`
	URL          string           `yaml:"url"`
	SkipExisting bool             `yaml:"skip_existing"`
	MaxPages     int              `yaml:"max_pages"`
	Selectors    SelectorConfig   `yaml:"selectors"`
	API          APIConfig        `yaml:"api"`
	Detection    *DetectionConfig `yaml:"detection"`
}

// APIConfig maps a JSON listing endpoint onto animal fields. Fields maps an
// animal field name to a dotted path inside each item.
type APIConfig struct {
	ItemsPath string            `yaml:"items_path"`
	PageParam string            `yaml:"page_param"`
	Fields    map[string]string `yaml:"fields"`
}

// SelectorConfig holds CSS selectors for the html and browser collectors.
// Field selectors may end in "@attr" to read an attribute instead of text.
type SelectorConfig struct {
	Item     string            `yaml:"item"`
	NextPage string            `yaml:"next_page"`
	WaitFor  string            `yaml:"wait_for"`
	Fields   map[string]string `yaml:"fields"`
}

func Load() (*Config, error) {
	v := NewViper()
	return LoadFrom(v, v.GetString("organizations_dir"))
}

// LoadFrom builds a Config from an already populated viper instance and
// reads organization files from orgDir.
func LoadFrom(v *viper.Viper, orgDir string) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: v.GetString("database_url"),
		},
		Scheduler: SchedulerConfig{
			Cron:     v.GetString("scrape_cron"),
			Interval: v.GetDuration("scrape_interval"),
		},
		Scraper: ScraperConfig{
			DelayMS:        v.GetInt("scrape_delay_ms"),
			RunTimeout:     v.GetDuration("run_timeout"),
			RetryAttempts:  v.GetInt("retry_attempts"),
			RetryBaseDelay: v.GetDuration("retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("retry_max_delay"),
			RateLimitRPS:   v.GetFloat64("rate_limit_rps"),
		},
		Detection: DetectionConfig{
			MissingThreshold:    v.GetInt("missing_threshold"),
			PartialThresholdPct: v.GetFloat64("partial_threshold_pct"),
			AbsoluteMinimum:     v.GetInt("absolute_minimum"),
			HistoricalSamples:   v.GetInt("historical_samples"),
		},
		Batch: BatchConfig{
			SmallBatchCeiling: v.GetInt("small_batch_ceiling"),
			MaxBatchSize:      v.GetInt("max_batch_size"),
			MinBatchSize:      v.GetInt("min_batch_size"),
			SkipFailureRate:   v.GetFloat64("media_skip_failure_rate"),
		},
		Media: MediaConfig{
			Enabled:         v.GetString("s3_bucket") != "",
			Bucket:          v.GetString("s3_bucket"),
			Region:          v.GetString("s3_region"),
			Endpoint:        v.GetString("s3_endpoint"),
			AccessKeyID:     v.GetString("s3_access_key_id"),
			SecretAccessKey: v.GetString("s3_secret_access_key"),
			HealthWindow:    v.GetInt("media_health_window"),
			HealthTTL:       v.GetDuration("media_health_ttl"),
		},
		Proxy: ProxyConfig{
			URL: v.GetString("proxy_url"),
		},
		DBPath:        v.GetString("db_path"),
		LogPath:       v.GetString("log_path"),
		LogLevel:      v.GetString("log_level"),
		Organizations: make(map[string]*OrganizationConfig),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.loadOrganizations(orgDir); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewViper loads .env into the environment and returns a viper instance
// reading every knob from env with defaults applied.
func NewViper() *viper.Viper {
	_ = godotenv.Load()
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// SetDefaults registers every knob with its default so env lookups work
// through AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("scrape_cron", "")
	v.SetDefault("scrape_interval", time.Duration(0))
	v.SetDefault("scrape_delay_ms", 500)
	v.SetDefault("run_timeout", 30*time.Minute)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_base_delay", time.Second)
	v.SetDefault("retry_max_delay", 30*time.Second)
	v.SetDefault("rate_limit_rps", 2.0)
	v.SetDefault("missing_threshold", 3)
	v.SetDefault("partial_threshold_pct", 0.5)
	v.SetDefault("absolute_minimum", 3)
	v.SetDefault("historical_samples", 3)
	v.SetDefault("small_batch_ceiling", 10)
	v.SetDefault("max_batch_size", 8)
	v.SetDefault("min_batch_size", 2)
	v.SetDefault("media_skip_failure_rate", 50.0)
	v.SetDefault("media_health_window", 50)
	v.SetDefault("media_health_ttl", 30*time.Minute)
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_access_key_id", "")
	v.SetDefault("s3_secret_access_key", "")
	v.SetDefault("proxy_url", "")
	v.SetDefault("db_path", "scraper.db")
	v.SetDefault("log_path", "daemon.log")
	v.SetDefault("log_level", "info")
	v.SetDefault("organizations_dir", DefaultOrganizationsDir)
}

func (c *Config) Validate() error {
	d := c.Detection
	if d.MissingThreshold < 1 {
		return fmt.Errorf("missing_threshold must be >= 1, got %d", d.MissingThreshold)
	}
	if d.PartialThresholdPct <= 0 || d.PartialThresholdPct > 1 {
		return fmt.Errorf("partial_threshold_pct must be in (0, 1], got %v", d.PartialThresholdPct)
	}
	if d.AbsoluteMinimum < 0 {
		return fmt.Errorf("absolute_minimum must be >= 0, got %d", d.AbsoluteMinimum)
	}
	if c.Scraper.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1, got %d", c.Scraper.RetryAttempts)
	}
	if c.Batch.MinBatchSize < 1 || c.Batch.MaxBatchSize < c.Batch.MinBatchSize {
		return fmt.Errorf("invalid batch sizes: min %d, max %d", c.Batch.MinBatchSize, c.Batch.MaxBatchSize)
	}
	return nil
}

// DetectionFor returns the thresholds for an organization, with any
// per-organization overrides applied on top of the global values.
func (c *Config) DetectionFor(orgID string) DetectionConfig {
	d := c.Detection
	org, ok := c.Organizations[orgID]
	if !ok || org.Detection == nil {
		return d
	}
	o := org.Detection
	if o.MissingThreshold > 0 {
		d.MissingThreshold = o.MissingThreshold
	}
	if o.PartialThresholdPct > 0 {
		d.PartialThresholdPct = o.PartialThresholdPct
	}
	if o.AbsoluteMinimum > 0 {
		d.AbsoluteMinimum = o.AbsoluteMinimum
	}
	if o.HistoricalSamples > 0 {
		d.HistoricalSamples = o.HistoricalSamples
	}
	return d
}

func (c *Config) loadOrganizations(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var org OrganizationConfig
		if err := yaml.Unmarshal(data, &org); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if org.ID == "" {
			return fmt.Errorf("parse %s: missing id", path)
		}
		if org.Collector == "" {
			org.Collector = "html"
		}

		c.Organizations[org.ID] = &org
	}

	return nil
}
