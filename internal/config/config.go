// Package config binds the daemon's CLI surface onto one struct using
// github.com/Luzifer/rconfig/v2, a struct-tag flag binder. It also
// supports a colon-delimited defaults file as a lower-priority source,
// applied before flags so flags always win.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	rconfig "github.com/Luzifer/rconfig/v2"

	"ustreamer/internal/encoder"
	"ustreamer/internal/frame"
)

// Config is the full CLI surface, grouped by concern: capture,
// encoding, stream, http, misc.
type Config struct {
	// Capture
	Device      string `flag:"device" default:"/dev/video0" description:"Capture device path"`
	Input       int    `flag:"input" default:"0" description:"Input index"`
	Format      string `flag:"format" default:"" description:"Desired pixel format (yuyv, uyvy, rgb24, bgr24, grey)"`
	Resolution  string `flag:"resolution" default:"640x480" description:"Desired resolution WxH"`
	DesiredFPS  int    `flag:"desired-fps" default:"30" description:"Desired capture FPS"`
	DVTimings   string `flag:"dv-timings" default:"none" description:"DV timings mode: none|query|fixed(...)"`
	Persistent  bool   `flag:"persistent" default:"false" description:"Keep retrying capture on failure instead of exiting"`
	Buffers     int    `flag:"buffers" default:"4" description:"Raw ring depth, >= 2"`
	Workers     int    `flag:"workers" default:"2" description:"Encode worker count"`

	// Encoding
	Encoder string `flag:"encoder" default:"cpu" description:"Encoder backend: cpu|m2m-image|m2m-video|hw"`
	Quality int    `flag:"quality" default:"80" description:"JPEG quality 1-100"`

	// Stream
	DropSameFrames  int `flag:"drop-same-frames" default:"0" description:"Dedup window length, 0-30, 0 disables"`
	StreamIntervalMS int `flag:"stream-interval-ms" default:"0" description:"Minimum interval between parts sent to a client"`
	OnlineWindowMS  int `flag:"online-window-ms" default:"1000" description:"Window after which source is considered offline"`
	OfflineRefreshMS int `flag:"offline-refresh-ms" default:"1000" description:"Offline placeholder republish interval"`

	// HTTP
	Host              string `flag:"host" default:"" description:"Bind host"`
	Port              int    `flag:"port" default:"8080" description:"Bind port"`
	Unix              string `flag:"unix" default:"" description:"Unix domain socket path, overrides host/port"`
	User              string `flag:"user" default:"" description:"Accepted but not enforced; see Non-goals"`
	Passwd            string `flag:"passwd" default:"" description:"Accepted but not enforced; see Non-goals"`
	Static            string `flag:"static" default:"" description:"Static asset directory overriding the embedded index"`
	AllowOrigin       string `flag:"allow-origin" default:"" description:"CORS Access-Control-Allow-Origin value"`
	StreamClientBuffer int   `flag:"stream-client-buffer" default:"1048576" description:"Per-connection outstanding byte limit"`
	ExposeCmdline     bool   `flag:"expose-cmdline" default:"false" description:"Reveal process argv in /state"`
	ExposePath        bool   `flag:"expose-path" default:"false" description:"Reveal capture device path in /state"`
	FakeResolution    string `flag:"fake-resolution" default:"" description:"Override the resolution /state reports, WxH"`

	// Misc
	ConfigFile string `flag:"config-file" default:"" description:"Optional colon-delimited defaults file"`
	LogLevel   string `flag:"log-level" default:"info" description:"error|info|verbose|debug"`
	Version    bool   `flag:"version" default:"false" description:"Print version and exit"`
}

// ExitCode identifies the exit codes assigned to fatal startup
// conditions.
type ExitCode int

const (
	ExitOK       ExitCode = 0
	ExitFatal    ExitCode = 1
	ExitConfig   ExitCode = 2
	ExitBind     ExitCode = 3
)

// ConfigError wraps a validation failure with the exit code the
// supervisor should report.
type ConfigError struct {
	Err  error
	Code ExitCode
}

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// Parse reads a colon-delimited defaults file (if --config-file is set
// via argv, checked ahead of the main parse pass) to seed defaults,
// then runs rconfig over os.Args.
func Parse() (*Config, error) {
	cfg := &Config{}

	if path := findConfigFileFlag(os.Args[1:]); path != "" {
		if err := seedFromFile(cfg, path); err != nil {
			return nil, &ConfigError{Err: err, Code: ExitConfig}
		}
	}

	if err := rconfig.Parse(cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("config: %w", err), Code: ExitConfig}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err, Code: ExitConfig}
	}
	return cfg, nil
}

// findConfigFileFlag does a minimal pre-scan for --config-file since
// rconfig itself needs the struct populated before it can bind flags;
// this gives a two-phase load: file defaults, then process-level
// overrides.
func findConfigFileFlag(args []string) string {
	for i, a := range args {
		if a == "--config-file" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, "--config-file=") {
			return strings.TrimPrefix(a, "--config-file=")
		}
	}
	return ""
}

// seedFromFile reads a colon-delimited "key:value" format and applies
// recognized keys onto cfg before flag parsing overrides them.
func seedFromFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.SplitN(line, ":", 2)
		if len(tokens) != 2 {
			continue
		}
		key, value := strings.TrimSpace(tokens[0]), strings.TrimSpace(tokens[1])
		switch key {
		case "device":
			cfg.Device = value
		case "resolution":
			cfg.Resolution = value
		case "quality":
			if q, err := strconv.Atoi(value); err == nil {
				cfg.Quality = q
			}
		case "static":
			cfg.Static = value
		case "host":
			cfg.Host = value
		case "port":
			if p, err := strconv.Atoi(value); err == nil {
				cfg.Port = p
			}
		}
	}
	return scanner.Err()
}

// Validate enforces the numeric ranges documented on each flag.
func (c *Config) Validate() error {
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("config: quality must be 1-100, got %d", c.Quality)
	}
	if c.DropSameFrames < 0 || c.DropSameFrames > 30 {
		return fmt.Errorf("config: drop-same-frames must be 0-30, got %d", c.DropSameFrames)
	}
	if c.Buffers < 2 {
		return fmt.Errorf("config: buffers must be >= 2, got %d", c.Buffers)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", c.Workers)
	}
	if _, err := encoder.ParseKind(c.Encoder); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, _, err := ParseResolution(c.Resolution); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.FakeResolution != "" {
		if _, _, err := ParseResolution(c.FakeResolution); err != nil {
			return fmt.Errorf("config: fake-resolution: %w", err)
		}
	}
	switch c.LogLevel {
	case "error", "info", "verbose", "debug":
	default:
		return fmt.Errorf("config: log-level must be error|info|verbose|debug, got %q", c.LogLevel)
	}
	return nil
}

// ParseResolution parses a "WxH" string.
func ParseResolution(s string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("resolution must be WxH, got %q", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("resolution width: %w", err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("resolution height: %w", err)
	}
	return w, h, nil
}

// ParsePixelFormat maps a CLI string onto the closed PixelFormat set.
// An empty string means "let the source choose".
func ParsePixelFormat(s string) frame.PixelFormat {
	switch strings.ToLower(s) {
	case "yuyv":
		return frame.FormatYUYV
	case "uyvy":
		return frame.FormatUYVY
	case "rgb24":
		return frame.FormatRGB24
	case "bgr24":
		return frame.FormatBGR24
	case "grey", "gray":
		return frame.FormatGREY
	default:
		return frame.FormatUnknown
	}
}
