package loadpipe

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	defaultBatchBytes      = 16 * 1024
	defaultFlushInterval   = 10 * time.Second
	defaultSinkTimeout     = 30 * time.Minute
	defaultQueryTimeout    = 5 * time.Minute
	defaultStartRetryDelay = time.Second
	defaultLoaderPath      = "loadcsv"
	defaultQueryPath       = "iquery"
	defaultQueryFormat     = "dcsv"
	defaultInputFlag       = "-i"
)

// MalformedPolicy decides what happens to a line that cannot be parsed.
type MalformedPolicy string

const (
	MalformedSkip  MalformedPolicy = "skip"
	MalformedAbort MalformedPolicy = "abort"
)

func (p *MalformedPolicy) UnmarshalText(text []byte) error {
	switch v := MalformedPolicy(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case MalformedSkip, MalformedAbort:
		*p = v
		return nil
	default:
		return errors.Wrapf(ErrUsage, "on_malformed_line must be %q or %q, got %q", MalformedSkip, MalformedAbort, string(text))
	}
}

// ByteSize is a byte count that accepts K/KiB/M/MiB/G/GiB suffixes.
type ByteSize int64

func (s *ByteSize) UnmarshalText(text []byte) error {
	n, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = ByteSize(n)
	return nil
}

func (s ByteSize) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// ParseSize converts a string like "64K", "10MiB" or "2g" to a number of bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Wrap(ErrUsage, "empty size")
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, errors.Wrapf(ErrUsage, "size %q does not start with a number", s)
	}
	num, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrUsage, "bad size %q: %v", s, err)
	}
	switch suffix := strings.ToLower(strings.TrimSpace(s[i:])); suffix {
	case "":
		return num, nil
	case "k", "kb", "kib":
		return num << 10, nil
	case "m", "mb", "mib":
		return num << 20, nil
	case "g", "gb", "gib":
		return num << 30, nil
	default:
		return 0, errors.Wrapf(ErrUsage, "unrecognized numeric suffix %q", suffix)
	}
}

// Config is a set of configuration parameters
type Config struct {
	BatchSize       int             `toml:"batch_size"`  // records per batch, 0 = unlimited
	BatchBytes      ByteSize        `toml:"batch_bytes"` // bytes per batch, 0 = unlimited
	FlushInterval   time.Duration   `toml:"flush_interval"`
	Delimiter       string          `toml:"delimiter"`
	OnMalformedLine MalformedPolicy `toml:"on_malformed_line"`
	ExpectedFields  int             `toml:"expected_fields"`
	Reencode        bool            `toml:"reencode"`
	MaxQueue        int             `toml:"max_queue"`

	SinkCommand     []string      `toml:"sink_command"`
	InputFlag       string        `toml:"input_flag"`
	LoaderArgs      []string      `toml:"loader_args"`
	LoaderHost      string        `toml:"loader_host"`
	LoaderPort      string        `toml:"loader_port"`
	SinkTimeout     time.Duration `toml:"sink_timeout"`
	StartAttempts   uint          `toml:"start_attempts"`
	StartRetryDelay time.Duration `toml:"start_retry_delay"`
	TempDir         string        `toml:"temp_dir"`
	NoLoad          bool          `toml:"no_load"`

	QueryCommand []string          `toml:"query_command"`
	QueryFormat  string            `toml:"query_format"`
	QueryTimeout time.Duration     `toml:"query_timeout"`
	Array        string            `toml:"array"`
	Attribute    string            `toml:"attribute"`
	Favorites    map[string]string `toml:"favorites"`

	MinLoaderVersion     string   `toml:"min_loader_version"`
	LoaderVersionCommand []string `toml:"loader_version_command"` // default: first word of sink_command plus --version
	Verbosity            int      `toml:"verbosity"`
	EnableOpenTelemetry  bool     `toml:"enable_opentelemetry"`
}

// NewConfig creates a new config with default values
func NewConfig() *Config {
	return &Config{
		BatchBytes:      defaultBatchBytes,
		FlushInterval:   defaultFlushInterval,
		Delimiter:       ",",
		OnMalformedLine: MalformedSkip,
		SinkCommand:     []string{defaultLoaderPath, "-x", "-z", "IRI"},
		InputFlag:       defaultInputFlag,
		SinkTimeout:     defaultSinkTimeout,
		StartAttempts:   1,
		StartRetryDelay: defaultStartRetryDelay,
		QueryCommand:    []string{defaultQueryPath},
		QueryFormat:     defaultQueryFormat,
		QueryTimeout:    defaultQueryTimeout,
		Favorites:       DefaultFavorites(),
	}
}

// LoadConfigFile decodes a TOML file on top of cfg. Keys the file sets
// replace the current values; keys it omits are left alone.
func LoadConfigFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return errors.Wrapf(ErrUsage, "unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// DelimiterRune returns the field separator named by Delimiter.
func (cfg *Config) DelimiterRune() (rune, error) {
	switch strings.ToLower(cfg.Delimiter) {
	case ",", "comma", "csv":
		return ',', nil
	case "\t", `\t`, "tab", "tsv":
		return '\t', nil
	default:
		return 0, errors.Wrapf(ErrUsage, "delimiter must be comma or tab, got %q", cfg.Delimiter)
	}
}

// Validate checks the config for values the batcher cannot work with.
func (cfg *Config) Validate() error {
	if cfg.BatchSize < 0 {
		return errors.Wrap(ErrUsage, "batch_size must be >= 0")
	}
	if cfg.BatchBytes < 0 {
		return errors.Wrap(ErrUsage, "batch_bytes must be >= 0")
	}
	if cfg.FlushInterval <= 0 {
		return errors.Wrap(ErrUsage, "flush_interval must be > 0")
	}
	if cfg.MaxQueue < 0 {
		return errors.Wrap(ErrUsage, "max_queue must be >= 0")
	}
	if cfg.ExpectedFields < 0 {
		return errors.Wrap(ErrUsage, "expected_fields must be >= 0")
	}
	if _, err := cfg.DelimiterRune(); err != nil {
		return err
	}
	if err := cfg.OnMalformedLine.UnmarshalText([]byte(cfg.OnMalformedLine)); err != nil {
		return err
	}
	if !cfg.NoLoad && len(cfg.SinkCommand) == 0 {
		return errors.Wrap(ErrUsage, "sink_command is empty")
	}
	if cfg.StartAttempts == 0 {
		return errors.Wrap(ErrUsage, "start_attempts must be >= 1")
	}
	if cfg.SinkTimeout < 0 || cfg.QueryTimeout < 0 {
		return errors.Wrap(ErrUsage, "timeouts must be >= 0")
	}
	return nil
}

// LoaderVersionArgv is the command that prints the loader version.
func (cfg *Config) LoaderVersionArgv() []string {
	if len(cfg.LoaderVersionCommand) > 0 {
		return cfg.LoaderVersionCommand
	}
	if len(cfg.SinkCommand) == 0 {
		return nil
	}
	return []string{cfg.SinkCommand[0], "--version"}
}

func (cfg *Config) String() string {
	return fmt.Sprintf("max batch %d bytes, max batch lines %d, flush interval %s, max queue %d",
		cfg.BatchBytes, cfg.BatchSize, cfg.FlushInterval, cfg.MaxQueue)
}

// DisallowedLoaderOptions maps loader options that loadpipe controls itself
// to the number of arguments each one takes.
var DisallowedLoaderOptions = map[string]int{
	"-i": 1, // input file is always the batch file
	"-n": 1, // mid-stream, nothing to skip
	"-X": 0, // never remove the target array
	"-z": 1, // load transform belongs to loadpipe
	"-x": 0, // already part of the default sink command
}

// PreenLoaderArgs drops disallowed options (and their arguments) from a
// pass-through argument list. A leading "--" is removed.
func PreenLoaderArgs(args []string, disallowed map[string]int) (kept []string, dropped []string) {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	kept = make([]string, 0, len(args))
	skip := 0
	for _, arg := range args {
		if skip > 0 {
			skip--
			dropped = append(dropped, arg)
			continue
		}
		if n, ok := disallowed[arg]; ok {
			skip = n
			dropped = append(dropped, arg)
			continue
		}
		kept = append(kept, arg)
	}
	return kept, dropped
}
