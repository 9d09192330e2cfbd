// Package config merges command line flags, STRICT_S3_UPLOAD_* environment
// variables and an optional config file into one validated Config.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/executor"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/policy"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/transfer"
)

const EnvPrefix = "STRICT_S3_UPLOAD"

const (
	NamingBaseName = "basename"
	NamingRelative = "relative"
)

type Config struct {
	// Upload selection
	Pattern   *regexp.Regexp
	Excludes  []string
	Recursive bool
	Naming    string
	MinSize   uint64
	MaxSize   uint64

	// Upload behaviour
	Public      bool
	Concurrency int
	MaxAttempts uint
	PartSize    int64
	DryRun      bool

	// Output
	Quiet          bool
	LogLevel       string
	LogJSON        bool
	ResultJSONFile string
	PlanJSONFile   string
	MetricsFile    string

	AWS s3client.Config

	GetStatementID  string
	ListStatementID string
}

var defaults = map[string]any{
	"recursive":         true,
	"naming":            NamingBaseName,
	"min-size":          "0",
	"max-size":          "0",
	"concurrency":       executor.DefaultConcurrency,
	"max-attempts":      executor.DefaultMaxAttempts,
	"part-size":         humanize.IBytes(transfer.DefaultPartSize),
	"get-statement-id":  policy.DefaultGetStatementID,
	"list-statement-id": policy.DefaultListStatementID,
}

// RegisterFlags declares the flags Load understands on cmd.
func RegisterFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file (yaml, json or toml)")
	pf.Bool("quiet", false, "Suppress non-error output")
	pf.String("log-level", "", "Log level (debug, info, warn, error); defaults to $LOG_LEVEL or info")
	pf.Bool("log-json", false, "Write logs as JSON")
	pf.String("profile", "", "AWS profile to use")
	pf.String("region", "", "AWS region (uses default if not specified)")
	pf.String("endpoint-url", "", "Custom S3 endpoint for S3 compatible stores")
	pf.Bool("path-style", false, "Use path style bucket addressing")
	pf.String("get-statement-id", policy.DefaultGetStatementID, "Sid of the bucket policy statement granting public s3:GetObject")
	pf.String("list-statement-id", policy.DefaultListStatementID, "Sid of the bucket policy statement granting public s3:ListBucket")

	f := cmd.Flags()
	f.String("pattern", "", "Regular expression file names must match")
	f.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	f.Bool("recursive", true, "Descend into subdirectories")
	f.String("naming", NamingBaseName, "Key naming: basename or relative")
	f.String("min-size", "0", "Skip files smaller than this (e.g. 1KB)")
	f.String("max-size", "0", "Skip files larger than this; 0 means no limit")
	f.Bool("public", false, "Grant public read access to the uploaded prefix")
	f.Int("concurrency", executor.DefaultConcurrency, "Number of concurrent uploads; 0 uploads sequentially")
	f.Uint("max-attempts", executor.DefaultMaxAttempts, "Attempts per file before giving up")
	f.String("part-size", humanize.IBytes(transfer.DefaultPartSize), "Multipart chunk size (at least 5MiB)")
	f.Bool("dryrun", false, "Shows operations without executing")
	f.String("result-json-file", "", "Path to output result as JSON file")
	f.String("plan-json-file", "", "Path to output plan as JSON file")
	f.String("metrics-file", "", "Path to write Prometheus metrics in textfile format")
}

// Load resolves the configuration for cmd. An explicitly set flag wins over
// the environment, which wins over the config file.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	f := NewFlagLoader(cmd, v)

	if path := f.String("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Excludes:    f.StringSlice("exclude"),
		Recursive:   f.Bool("recursive"),
		Naming:      f.String("naming"),
		Public:      f.Bool("public"),
		Concurrency: f.Int("concurrency"),
		MaxAttempts: f.Uint("max-attempts"),
		DryRun:      f.Bool("dryrun"),

		Quiet:          f.Bool("quiet"),
		LogLevel:       f.String("log-level"),
		LogJSON:        f.Bool("log-json"),
		ResultJSONFile: f.String("result-json-file"),
		PlanJSONFile:   f.String("plan-json-file"),
		MetricsFile:    f.String("metrics-file"),

		AWS: s3client.Config{
			Profile:         f.String("profile"),
			Region:          f.String("region"),
			Endpoint:        f.String("endpoint-url"),
			PathStyle:       f.Bool("path-style"),
			AccessKeyID:     v.GetString("access-key-id"),
			SecretAccessKey: v.GetString("secret-access-key"),
		},

		GetStatementID:  f.String("get-statement-id"),
		ListStatementID: f.String("list-statement-id"),
	}

	if pattern := f.String("pattern"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		cfg.Pattern = re
	}

	var err error
	if cfg.MinSize, err = parseSize("min-size", f.String("min-size")); err != nil {
		return nil, err
	}
	if cfg.MaxSize, err = parseSize("max-size", f.String("max-size")); err != nil {
		return nil, err
	}
	partSize, err := parseSize("part-size", f.String("part-size"))
	if err != nil {
		return nil, err
	}
	cfg.PartSize = int64(partSize)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseSize(name, value string) (uint64, error) {
	if value == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return n, nil
}

func (c *Config) Validate() error {
	switch c.Naming {
	case NamingBaseName, NamingRelative:
	default:
		return fmt.Errorf("invalid naming %q: must be %s or %s", c.Naming, NamingBaseName, NamingRelative)
	}
	if c.PartSize < transfer.MinPartSize {
		return fmt.Errorf("%w: %s is below the %s minimum",
			s3err.ErrInvalidPartSize, humanize.IBytes(uint64(max(c.PartSize, 0))), humanize.IBytes(transfer.MinPartSize))
	}
	if c.MaxSize > 0 && c.MinSize > c.MaxSize {
		return fmt.Errorf("min-size %s is larger than max-size %s", humanize.IBytes(c.MinSize), humanize.IBytes(c.MaxSize))
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.MaxAttempts == 0 {
		return fmt.Errorf("max-attempts must be at least 1")
	}
	return nil
}

// HasSizeFilter reports whether MinSize or MaxSize restrict the manifest.
func (c *Config) HasSizeFilter() bool {
	return c.MinSize > 0 || c.MaxSize > 0
}
