package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	HeadRows     int    `mapstructure:"head_rows" yaml:"head_rows"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`

	// Describe
	DescribeAggregators     []string `mapstructure:"describe_aggregators" yaml:"describe_aggregators"`
	DescribeConcurrency     int      `mapstructure:"describe_concurrency" yaml:"describe_concurrency"`
	DescribeQueryTimeoutSec int      `mapstructure:"describe_query_timeout_sec" yaml:"describe_query_timeout_sec"`
	DescribeRateLimitQPS    float64  `mapstructure:"describe_rate_limit_qps" yaml:"describe_rate_limit_qps"`
	EngineMaxConns          int      `mapstructure:"engine_max_conns" yaml:"engine_max_conns"`

	// Loading
	CSVDelimiter string `mapstructure:"csv_delimiter" yaml:"csv_delimiter"`
	CSVEncoding  string `mapstructure:"csv_encoding" yaml:"csv_encoding"`
	MaxRows      int    `mapstructure:"max_rows" yaml:"max_rows"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`

	// Metrics
	MetricsBackend  string `mapstructure:"metrics_backend" yaml:"metrics_backend"`
	MetricsTags     string `mapstructure:"metrics_tags" yaml:"metrics_tags"`
	MetricsFlushSec int    `mapstructure:"metrics_flush_sec" yaml:"metrics_flush_sec"`

	// Datasets connected when the shell starts, name -> connection string.
	Datasets map[string]string `mapstructure:"datasets" yaml:"datasets"`
}

// DefaultAggregators mirrors describe.DefaultAggregators by display name.
var DefaultAggregators = []string{"count", "null_count", "mean", "stddev", "min", "max", "median", "percentile(25)"}

// OutputFormats lists the accepted output_format values.
var OutputFormats = []string{"table", "csv", "json", "yaml", "markdown"}

// DefaultPath returns ~/.dataforge/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".dataforge", "config.yaml"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.dataforge/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := writeFileAtomic(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("head_rows", 5)
	v.SetDefault("output_format", "table")
	v.SetDefault("describe_aggregators", DefaultAggregators)
	v.SetDefault("describe_concurrency", 1)
	v.SetDefault("describe_query_timeout_sec", 0)
	v.SetDefault("describe_rate_limit_qps", 0.0)
	v.SetDefault("engine_max_conns", 1)
	v.SetDefault("csv_delimiter", "")
	v.SetDefault("csv_encoding", "utf-8")
	v.SetDefault("max_rows", 0)
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_backend", "none")
	v.SetDefault("metrics_tags", "")
	v.SetDefault("metrics_flush_sec", 60)
	v.SetDefault("datasets", map[string]string{})
}

// Defaults returns the built-in configuration, ignoring files and env.
func Defaults() *Global {
	v := viper.New()
	setDefaults(v)
	var c Global
	_ = v.Unmarshal(&c)
	if c.Datasets == nil {
		c.Datasets = map[string]string{}
	}
	return &c
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("DATAFORGE")
	v.AutomaticEnv()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".dataforge"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// optional read
		_ = v.ReadInConfig()
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Comma-separated env values arrive as a single element.
	if len(c.DescribeAggregators) == 1 && strings.Contains(c.DescribeAggregators[0], ",") {
		c.DescribeAggregators = SplitList(c.DescribeAggregators[0])
	}
	if c.Datasets == nil {
		c.Datasets = map[string]string{}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that cannot be represented by their types alone.
// Aggregator names are checked when the describer is built.
func (c *Global) Validate() error {
	if c.HeadRows < 0 {
		return fmt.Errorf("head_rows must be >= 0, got %d", c.HeadRows)
	}
	if !validFormat(c.OutputFormat) {
		return fmt.Errorf("invalid output_format %q (use %s)", c.OutputFormat, strings.Join(OutputFormats, ", "))
	}
	if c.DescribeConcurrency < 1 {
		return fmt.Errorf("describe_concurrency must be >= 1, got %d", c.DescribeConcurrency)
	}
	if c.DescribeQueryTimeoutSec < 0 || c.DescribeRateLimitQPS < 0 || c.MaxRows < 0 || c.MetricsFlushSec < 0 {
		return fmt.Errorf("timeouts, rate limits and row caps must not be negative")
	}
	if c.EngineMaxConns < 1 {
		return fmt.Errorf("engine_max_conns must be >= 1, got %d", c.EngineMaxConns)
	}
	switch c.MetricsBackend {
	case "", "none", "datadog":
	default:
		return fmt.Errorf("invalid metrics_backend %q (use none or datadog)", c.MetricsBackend)
	}
	return nil
}

// Set parses val for key and stores it on c.
func (c *Global) Set(key, val string) error {
	setInt := func(dst *int, min int) error {
		i, err := strconv.Atoi(val)
		if err != nil || i < min {
			return fmt.Errorf("invalid int for %s: %v", key, val)
		}
		*dst = i
		return nil
	}
	switch key {
	case "head_rows":
		return setInt(&c.HeadRows, 0)
	case "output_format":
		if !validFormat(val) {
			return fmt.Errorf("invalid output_format: %s (use %s)", val, strings.Join(OutputFormats, ", "))
		}
		c.OutputFormat = strings.ToLower(val)
	case "describe_aggregators":
		names := SplitList(val)
		if len(names) == 0 {
			return fmt.Errorf("describe_aggregators needs at least one name")
		}
		c.DescribeAggregators = names
	case "describe_concurrency":
		return setInt(&c.DescribeConcurrency, 1)
	case "describe_query_timeout_sec":
		return setInt(&c.DescribeQueryTimeoutSec, 0)
	case "describe_rate_limit_qps":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("invalid float for describe_rate_limit_qps: %v", val)
		}
		c.DescribeRateLimitQPS = f
	case "engine_max_conns":
		return setInt(&c.EngineMaxConns, 1)
	case "csv_delimiter":
		c.CSVDelimiter = val
	case "csv_encoding":
		c.CSVEncoding = val
	case "max_rows":
		return setInt(&c.MaxRows, 0)
	case "log_level":
		switch strings.ToLower(val) {
		case "debug", "info", "warn", "error":
			c.LogLevel = strings.ToLower(val)
		default:
			return fmt.Errorf("invalid log_level: %s (use debug, info, warn or error)", val)
		}
	case "log_format":
		switch strings.ToLower(val) {
		case "text", "json":
			c.LogFormat = strings.ToLower(val)
		default:
			return fmt.Errorf("invalid log_format: %s (use text or json)", val)
		}
	case "log_file":
		c.LogFile = val
	case "metrics_backend":
		switch strings.ToLower(val) {
		case "none", "datadog":
			c.MetricsBackend = strings.ToLower(val)
		default:
			return fmt.Errorf("invalid metrics_backend: %s (use none or datadog)", val)
		}
	case "metrics_tags":
		c.MetricsTags = val
	case "metrics_flush_sec":
		return setInt(&c.MetricsFlushSec, 1)
	default:
		if name, ok := strings.CutPrefix(key, "datasets."); ok && name != "" {
			if c.Datasets == nil {
				c.Datasets = map[string]string{}
			}
			if val == "" {
				delete(c.Datasets, name)
			} else {
				c.Datasets[name] = val
			}
			return nil
		}
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// Lines renders the effective configuration as "key: value" lines, datasets last.
func (c *Global) Lines() []string {
	out := []string{
		fmt.Sprintf("head_rows: %d", c.HeadRows),
		fmt.Sprintf("output_format: %s", c.OutputFormat),
		fmt.Sprintf("describe_aggregators: %s", strings.Join(c.DescribeAggregators, ",")),
		fmt.Sprintf("describe_concurrency: %d", c.DescribeConcurrency),
		fmt.Sprintf("describe_query_timeout_sec: %d", c.DescribeQueryTimeoutSec),
		fmt.Sprintf("describe_rate_limit_qps: %g", c.DescribeRateLimitQPS),
		fmt.Sprintf("engine_max_conns: %d", c.EngineMaxConns),
		fmt.Sprintf("csv_delimiter: %s", c.CSVDelimiter),
		fmt.Sprintf("csv_encoding: %s", c.CSVEncoding),
		fmt.Sprintf("max_rows: %d", c.MaxRows),
		fmt.Sprintf("log_level: %s", c.LogLevel),
		fmt.Sprintf("log_format: %s", c.LogFormat),
		fmt.Sprintf("log_file: %s", c.LogFile),
		fmt.Sprintf("metrics_backend: %s", c.MetricsBackend),
		fmt.Sprintf("metrics_tags: %s", c.MetricsTags),
		fmt.Sprintf("metrics_flush_sec: %d", c.MetricsFlushSec),
	}
	names := make([]string, 0, len(c.Datasets))
	for n := range c.Datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, fmt.Sprintf("datasets.%s: %s", n, c.Datasets[n]))
	}
	return out
}

// SplitList splits a comma-separated list, keeping commas inside parentheses
// so "percentile(90)" style names survive.
func SplitList(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	flush := func(end int) {
		if part := strings.TrimSpace(s[start:end]); part != "" {
			out = append(out, part)
		}
	}
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(s))
	return out
}

func validFormat(f string) bool {
	for _, o := range OutputFormats {
		if strings.EqualFold(f, o) {
			return true
		}
	}
	return false
}
