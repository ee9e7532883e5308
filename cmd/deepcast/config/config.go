// Package config provides configuration parsing for the deepcast command.
//
// It handles both command-line flags and environment variables, with flags taking
// precedence over environment variables. An optional .env file in the working
// directory (or the file named by DEEPCAST_ENV_FILE) is loaded first and never
// overrides variables already set in the environment.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables (including those from .env)
//  3. Default values
//
// Source-specific settings come from SOURCE_* environment variables, e.g.
// SOURCE_QUERY or SOURCE_VALUE_PATH, which end up in Config.SourceConfig as
// "query" and "valuePath".
//
// Example usage:
//
//	cfg, err := config.Load(os.Args[1:])
//	if err != nil {
//	    // flag or validation error
//	}
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/series"
	"github.com/HatiCode/deepcast/pkg/tls"
)

const (
	ModePredict   = "predict"
	ModeJSONLines = "jsonlines"
	ModeServe     = "serve"
)

// Config holds all deepcast configuration.
type Config struct {
	Mode string

	LogFormat string
	LogLevel  string

	// Model endpoint.
	Endpoint      string
	Timeout       time.Duration
	EndpointAuth  string
	Freq          series.Frequency
	PredictionLen int
	NumSamples    int
	Quantiles     []string
	Encoding      string
	TLS           tls.Config

	// Input series for predict and jsonlines modes.
	Source       string
	SourceConfig map[string]string
	Window       time.Duration
	Step         time.Duration
	Progress     bool

	// Output for predict mode.
	Output string
	Plot   string

	// Serve mode.
	Listen     string
	GRPCListen string
	ServerTLS  tls.Config

	// Profile enables runtime profiling: cpu, mem or empty.
	Profile string
}

// Load reads the .env file, then parses args against environment fallbacks
// and validates the result.
func Load(args []string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg, err := parse(args, io.Discard)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() error {
	path := getEnv("DEEPCAST_ENV_FILE", ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func parse(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("deepcast", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.Mode, "mode", getEnv("MODE", ModePredict), "Mode: predict, jsonlines, or serve")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.Endpoint, "endpoint", getEnv("ENDPOINT", ""), "Model endpoint URL (required for predict and serve)")
	fs.DurationVar(&cfg.Timeout, "timeout", getEnvDuration("TIMEOUT", 30*time.Second), "Model request timeout")
	fs.StringVar(&cfg.EndpointAuth, "endpoint-auth", getEnv("ENDPOINT_AUTH", ""), "Authorization header sent to the model endpoint")
	freq := fs.String("freq", getEnv("FREQ", "D"), "Series frequency, e.g. D, H, 15min, W, M")
	fs.IntVar(&cfg.PredictionLen, "prediction-length", getEnvInt("PREDICTION_LENGTH", 0), "Number of steps to forecast (required for predict and serve)")
	fs.IntVar(&cfg.NumSamples, "num-samples", getEnvInt("NUM_SAMPLES", codec.DefaultNumSamples), "Sample paths drawn by the model")
	quantiles := fs.String("quantiles", getEnv("QUANTILES", strings.Join(codec.DefaultQuantiles(), ",")), "Comma-separated quantile levels")
	fs.StringVar(&cfg.Encoding, "encoding", getEnv("ENCODING", codec.DefaultEncoding), "Text encoding of request and response bodies")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mTLS towards the model endpoint")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS client certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS client private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for server verification")
	fs.StringVar(&cfg.TLS.ServerName, "tls-server-name", getEnv("TLS_SERVER_NAME", ""), "Expected server name of the model endpoint")

	fs.StringVar(&cfg.Source, "source", getEnv("SOURCE", "file"), "Source kind: file, url, prometheus, victoriametrics, or http")
	fs.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", 24*time.Hour), "History window for prometheus and http sources")
	fs.DurationVar(&cfg.Step, "step", getEnvDuration("STEP", 0), "Sample step for prometheus and http sources (default: freq)")
	fs.BoolVar(&cfg.Progress, "progress", getEnvBool("PROGRESS", false), "Report download progress of url sources on stderr")

	fs.StringVar(&cfg.Output, "output", getEnv("OUTPUT", "tsv"), "Forecast output format: tsv or json")
	fs.StringVar(&cfg.Plot, "plot", getEnv("PLOT", ""), "Write an HTML chart of the forecasts to this file")

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8082"), "HTTP listen address (serve mode)")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC health listen address (serve mode, empty disables)")
	fs.BoolVar(&cfg.ServerTLS.Enabled, "server-tls-enabled", getEnvBool("SERVER_TLS_ENABLED", false), "Require mTLS from proxy clients (serve mode)")
	fs.StringVar(&cfg.ServerTLS.CertFile, "server-tls-cert-file", getEnv("SERVER_TLS_CERT_FILE", ""), "TLS server certificate file")
	fs.StringVar(&cfg.ServerTLS.KeyFile, "server-tls-key-file", getEnv("SERVER_TLS_KEY_FILE", ""), "TLS server private key file")
	fs.StringVar(&cfg.ServerTLS.CAFile, "server-tls-ca-file", getEnv("SERVER_TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	fs.StringVar(&cfg.Profile, "profile", getEnv("PROFILE", ""), "Write a runtime profile: cpu or mem")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f, err := series.ParseFrequency(*freq)
	if err != nil {
		return nil, err
	}
	cfg.Freq = f
	cfg.Quantiles = splitList(*quantiles)
	cfg.SourceConfig = parseSourceConfig(os.Environ())

	// A positional argument is a shortcut for the file source path.
	if fs.NArg() > 0 && cfg.SourceConfig["path"] == "" {
		cfg.SourceConfig["path"] = fs.Arg(0)
	}

	if cfg.Step <= 0 {
		if d, ok := fixedDuration(cfg.Freq); ok {
			cfg.Step = d
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModePredict, ModeServe:
		if c.Endpoint == "" {
			return fmt.Errorf("%s mode: endpoint is required", c.Mode)
		}
		if c.PredictionLen <= 0 {
			return fmt.Errorf("%s mode: prediction-length must be > 0", c.Mode)
		}
	case ModeJSONLines:
	default:
		return fmt.Errorf("invalid mode %q (must be predict, jsonlines, or serve)", c.Mode)
	}

	if c.NumSamples <= 0 {
		return fmt.Errorf("num-samples must be > 0, got %d", c.NumSamples)
	}
	if _, err := codec.NormalizeQuantiles(c.Quantiles); err != nil {
		return err
	}
	if _, err := codec.LookupEncoding(c.Encoding); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format %q (must be text or json)", c.LogFormat)
	}
	switch c.Output {
	case "tsv", "json":
	default:
		return fmt.Errorf("invalid output %q (must be tsv or json)", c.Output)
	}
	switch c.Profile {
	case "", "cpu", "mem":
	default:
		return fmt.Errorf("invalid profile %q (must be cpu or mem)", c.Profile)
	}

	if (c.Source == "prometheus" || c.Source == "victoriametrics" || c.Source == "http") && c.Step <= 0 {
		return fmt.Errorf("source %s: step is required for frequency %s", c.Source, c.Freq)
	}

	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if err := c.ServerTLS.Validate(); err != nil {
		return fmt.Errorf("server %w", err)
	}
	return nil
}

// fixedDuration returns the length of one step of f when it does not depend
// on the calendar.
func fixedDuration(f series.Frequency) (time.Duration, bool) {
	var unit time.Duration
	switch f.Unit {
	case series.UnitSecond:
		unit = time.Second
	case series.UnitMinute:
		unit = time.Minute
	case series.UnitHour:
		unit = time.Hour
	case series.UnitDay:
		unit = 24 * time.Hour
	case series.UnitWeek:
		unit = 7 * 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(f.N) * unit, true
}

// parseSourceConfig turns SOURCE_* variables into a configuration map.
// The remainder of the name is converted to lower camel case, so
// SOURCE_VALUE_PATH becomes "valuePath". SOURCE itself is not included.
func parseSourceConfig(environ []string) map[string]string {
	const prefix = "SOURCE_"
	config := make(map[string]string)

	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
			continue
		}
		config[toLowerCamelCase(key[len(prefix):])] = value
	}

	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var sb strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && sb.Len() > 0 {
			sb.WriteString(strings.ToUpper(p[:1]))
			sb.WriteString(p[1:])
			continue
		}
		sb.WriteString(p)
	}
	return sb.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
