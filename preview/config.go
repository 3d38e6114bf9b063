package preview

import (
	"encoding"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ShoshinNikita/filepreview/pkg/rlog"
	"github.com/gildas/go-core"
	"github.com/joho/godotenv"
)

const (
	DefaultClarity = 1000
	MaxClarity     = 10000
)

type Config struct {
	BuildInfo BuildInfo

	ServerPort int
	// BaseURL is used to resolve relative references like "/files/doc.pdf".
	BaseURL string

	Clarity    int
	MaxClarity int
	MaxPDFSize MiB
	Thumbnails bool

	RequestTimeout time.Duration
	SessionTTL     time.Duration

	PlaceholderImage string
	ErrorImage       string

	ReadStaticFilesFromDisk bool
	LogLevel                rlog.Level
}

type BuildInfo struct {
	ShortGitHash string
	CommitTime   string
}

type MiB int

func (mb MiB) Bytes() int64 {
	return int64(mb) << 20
}

func (mb MiB) String() string {
	text, _ := mb.MarshalText()
	return string(text)
}

func (mb MiB) MarshalText() (text []byte, err error) {
	if mb >= 1024 && mb%1024 == 0 {
		return []byte(strconv.Itoa(int(mb/1024)) + "Gi"), nil
	}
	return []byte(strconv.Itoa(int(mb)) + "Mi"), nil
}

func (mb *MiB) UnmarshalText(data []byte) error {
	text := string(data)

	mul := 1
	switch {
	case strings.HasSuffix(text, "Mi"):
	case strings.HasSuffix(text, "Gi"):
		mul = 1024
	default:
		return errors.New("valid suffixes: Mi, Gi")
	}
	n, err := strconv.Atoi(text[:len(text)-2])
	if err != nil {
		return fmt.Errorf("invalid size: %w", err)
	}

	*mb = MiB(n * mul)
	return nil
}

type flagParams struct {
	// p is a pointer to a value.
	p            any
	defaultValue any
	desc         string
}

// getFlagParams returns all flags. Default values can be overridden with environment
// variables (or .env file), flags take precedence.
func (cfg *Config) getFlagParams() map[string]flagParams {
	return map[string]flagParams{
		"port": {
			p: &cfg.ServerPort, defaultValue: core.GetEnvAsInt("PREVIEW_PORT", 8080), desc: "Server port",
		},
		"base-url": {
			p: &cfg.BaseURL, defaultValue: core.GetEnvAsString("PREVIEW_BASE_URL", ""), desc: "" +
				"Base url for relative sources (for example, /files/doc.pdf). If empty,\n" +
				"relative sources can be classified only by their extension",
		},
		//
		"clarity": {
			p: &cfg.Clarity, defaultValue: core.GetEnvAsInt("PREVIEW_CLARITY", DefaultClarity), desc: "Default width of PDF thumbnails, px",
		},
		"max-clarity": {
			p: &cfg.MaxClarity, defaultValue: core.GetEnvAsInt("PREVIEW_MAX_CLARITY", MaxClarity), desc: "Max width of PDF thumbnails, px",
		},
		"max-pdf-size": {
			p: &cfg.MaxPDFSize, defaultValue: parseMiB(core.GetEnvAsString("PREVIEW_MAX_PDF_SIZE", "50Mi")), desc: "Max size of a PDF file to render",
		},
		"thumbnails": {
			p: &cfg.Thumbnails, defaultValue: core.GetEnvAsBool("PREVIEW_THUMBNAILS", true), desc: "" +
				"Generate PDF thumbnails. If disabled, PDF previews fall back to the\n" +
				"original file",
		},
		//
		"request-timeout": {
			p: &cfg.RequestTimeout, defaultValue: core.GetEnvAsDuration("PREVIEW_REQUEST_TIMEOUT", 30*time.Second), desc: "Timeout for outgoing requests",
		},
		"session-ttl": {
			p: &cfg.SessionTTL, defaultValue: core.GetEnvAsDuration("PREVIEW_SESSION_TTL", 10*time.Minute), desc: "Idle sessions are closed after this duration",
		},
		//
		"placeholder-image": {
			p: &cfg.PlaceholderImage, defaultValue: core.GetEnvAsString("PREVIEW_PLACEHOLDER_IMAGE", ""), desc: "" +
				"Default image shown before the file type is resolved. Embedded images are\n" +
				"available at /static/placeholder.svg and /static/error.svg",
		},
		"error-image": {
			p: &cfg.ErrorImage, defaultValue: core.GetEnvAsString("PREVIEW_ERROR_IMAGE", ""), desc: "Default image shown for unknown file types",
		},
		//
		"read-static-files-from-disk": {
			p: &cfg.ReadStaticFilesFromDisk, defaultValue: false, desc: "Read static files directly from disk. Useful for development",
		},
		"log-level": {
			p: &cfg.LogLevel, defaultValue: parseLogLevel(core.GetEnvAsString("PREVIEW_LOG_LEVEL", string(rlog.LevelInfo))), desc: "" +
				"Set the minimal log level. One of: debug, info, warn, error",
		},
	}
}

func parseMiB(s string) MiB {
	var v MiB
	if err := v.UnmarshalText([]byte(s)); err != nil {
		rlog.Warnf("invalid size %q, use 50Mi: %s", s, err)
		return 50
	}
	return v
}

// parseLogLevel is used for env values: flag.TextVar panics on invalid defaults.
func parseLogLevel(s string) rlog.Level {
	var v rlog.Level
	if err := v.UnmarshalText([]byte(s)); err != nil {
		rlog.Warnf("invalid log level %q, use %s: %s", s, rlog.LevelInfo, err)
		return rlog.LevelInfo
	}
	return v
}

func ParseConfig() (Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{
		BuildInfo: readBuildInfo(),
	}

	var printVersion bool
	fs.BoolVar(&printVersion, "version", false, "Print version and exit")

	flags := cfg.getFlagParams()
	for name, params := range flags {
		switch p := params.p.(type) {
		case *bool:
			fs.BoolVar(p, name, params.defaultValue.(bool), params.desc)
		case *int:
			fs.IntVar(p, name, params.defaultValue.(int), params.desc)
		case *string:
			fs.StringVar(p, name, params.defaultValue.(string), params.desc)
		case *time.Duration:
			fs.DurationVar(p, name, params.defaultValue.(time.Duration), params.desc)
		case encoding.TextUnmarshaler:
			fs.TextVar(p, name, params.defaultValue.(encoding.TextMarshaler), params.desc)
		default:
			return Config{}, fmt.Errorf("flag %q has unsupported type: %T", name, p)
		}
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if printVersion {
		cfg.BuildInfo.Print()
		os.Exit(0)
	}

	return cfg, cfg.Validate()
}

func (cfg Config) Validate() error {
	if cfg.ServerPort <= 0 {
		return errors.New("server port must be > 0")
	}
	if cfg.Clarity <= 0 {
		return errors.New("clarity must be > 0")
	}
	if cfg.MaxClarity < cfg.Clarity {
		return fmt.Errorf("max clarity must be >= clarity (%d)", cfg.Clarity)
	}
	if cfg.MaxPDFSize <= 0 {
		return errors.New("max pdf size must be > 0")
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base url: %w", err)
		}
		if !u.IsAbs() {
			return fmt.Errorf("base url must be absolute, got %q", cfg.BaseURL)
		}
	}
	return nil
}

func readBuildInfo() BuildInfo {
	res := BuildInfo{
		ShortGitHash: "unknown",
		CommitTime:   "unknown",
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return res
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			res.ShortGitHash = s.Value
			if len(res.ShortGitHash) > 7 {
				res.ShortGitHash = res.ShortGitHash[:7]
			}

		case "vcs.time":
			t, err := time.Parse(time.RFC3339, s.Value)
			if err == nil {
				res.CommitTime = t.UTC().Format("2006-01-02 15:04:05 UTC")
			}
		}
	}
	return res
}

func (info BuildInfo) Print() {
	fmt.Fprintf(os.Stderr, `
    filepreview

    Commit Hash: %q
    Commit Time: %q

`,
		info.ShortGitHash,
		info.CommitTime,
	)
}

func (cfg Config) Print() {
	flags := cfg.getFlagParams()

	var (
		names         = make([]string, 0, len(flags))
		maxNameLength int
	)
	for name := range flags {
		if len(name) > maxNameLength {
			maxNameLength = len(name)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprint(os.Stderr, "    Config:\n\n")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "        --%-*s = %v\n", maxNameLength, name, reflect.ValueOf(flags[name].p).Elem())
	}
	fmt.Fprint(os.Stderr, "\n")
}
