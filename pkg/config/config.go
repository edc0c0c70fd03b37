package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/lucid-vigil/safewatch/pkg/classifier"
	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the application.
// Tags are used by Viper to map YAML keys to struct fields.
type Config struct {
	LogLevel        string           `mapstructure:"log_level"`
	LogFile         string           `mapstructure:"log_file"`
	TrustedRanges   []string         `mapstructure:"trusted_ranges"`
	DataList        string           `mapstructure:"data_list"`
	WatchDataList   bool             `mapstructure:"watch_data_list"`
	Capture         CaptureConfig    `mapstructure:"capture"`
	Detect          DetectConfig     `mapstructure:"detect"`
	Reporters       []ReporterConfig `mapstructure:"reporters"`
	MetricsAddr     string           `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration    `mapstructure:"shutdown_timeout"`
}

// CaptureConfig selects where packets are read from. With neither an
// interface nor a file set, the agent idles after startup.
type CaptureConfig struct {
	Interface    string   `mapstructure:"interface"`
	PcapFile     string   `mapstructure:"pcap_file"`
	LibraryPaths []string `mapstructure:"library_paths"`
}

// DetectConfig tunes the detection reporter.
type DetectConfig struct {
	SuppressWindow time.Duration `mapstructure:"suppress_window"`
}

// ReporterConfig defines one periodic stats reporter.
type ReporterConfig struct {
	Label    string `mapstructure:"label"`
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
	HostIO   bool   `mapstructure:"host_io"` // include host interface byte counters
}

// DefaultLibraryPaths are the glob patterns searched for a capture library.
var DefaultLibraryPaths = []string{
	"/usr/lib/libpcap.so*",
	"/usr/lib64/libpcap.so*",
	"/usr/lib/*/libpcap.so*",
	"/lib/*/libpcap.so*",
	"/usr/local/lib/libpcap.so*",
	"/usr/lib/libpcap.*dylib",
	"/opt/homebrew/lib/libpcap*.dylib",
	"C:\\Windows\\System32\\Npcap\\wpcap.dll",
	"C:\\Windows\\System32\\wpcap.dll",
}

// Interface names are alphanumeric with hyphens, underscores and dots (VLANs).
var interfaceName = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "monitor.log")
	v.SetDefault("trusted_ranges", []string{classifier.DefaultTrustedRange})
	v.SetDefault("data_list", "")
	v.SetDefault("watch_data_list", false)
	v.SetDefault("capture.library_paths", DefaultLibraryPaths)
	v.SetDefault("detect.suppress_window", "0s")
	v.SetDefault("metrics_addr", "") // disabled
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("reporters", []map[string]interface{}{
		{"label": "1m", "enabled": true, "interval": "60s", "host_io": false},
		{"label": "5m", "enabled": true, "interval": "300s", "host_io": true},
	})
}

// LoadConfig reads the configuration from path, or when path is empty from
// safewatch.yaml in the current directory or /etc/safewatch/. A missing file
// in the search path means defaults; a missing explicit path is an error.
// Environment variables are not consulted.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("safewatch") // safewatch.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/safewatch/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values viper cannot type-check.
func (c *Config) Validate() error {
	if c.LogFile == "" {
		return fmt.Errorf("log_file must not be empty")
	}
	if _, err := classifier.ParsePrefixes(c.TrustedRanges); err != nil {
		return fmt.Errorf("trusted_ranges: %w", err)
	}
	if c.Capture.Interface != "" && !interfaceName.MatchString(c.Capture.Interface) {
		return fmt.Errorf("capture.interface: invalid interface name %q", c.Capture.Interface)
	}
	if c.Detect.SuppressWindow < 0 {
		return fmt.Errorf("detect.suppress_window must not be negative")
	}

	seen := make(map[string]bool)
	for i, r := range c.Reporters {
		if r.Label == "" {
			return fmt.Errorf("reporters[%d]: label must not be empty", i)
		}
		if seen[r.Label] {
			return fmt.Errorf("reporters[%d]: duplicate label %q", i, r.Label)
		}
		seen[r.Label] = true

		d, err := time.ParseDuration(r.Interval)
		if err != nil {
			return fmt.Errorf("reporters[%d] (%s): invalid interval: %w", i, r.Label, err)
		}
		if d <= 0 {
			return fmt.Errorf("reporters[%d] (%s): interval must be positive", i, r.Label)
		}
	}
	return nil
}

// GetReporterConfig returns the reporter entry with label, or nil.
func (c *Config) GetReporterConfig(label string) *ReporterConfig {
	if c == nil {
		return nil
	}
	for i := range c.Reporters {
		if c.Reporters[i].Label == label {
			return &c.Reporters[i]
		}
	}
	return nil
}

// TrustedPredicate builds the classifier predicate for TrustedRanges. An
// empty list trusts nothing.
func (c *Config) TrustedPredicate() (classifier.PrefixPredicate, error) {
	prefixes, err := classifier.ParsePrefixes(c.TrustedRanges)
	if err != nil {
		return classifier.PrefixPredicate{}, fmt.Errorf("trusted_ranges: %w", err)
	}
	return classifier.NewPrefixPredicate(prefixes...), nil
}
