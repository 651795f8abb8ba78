package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/greendrake/fractions"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is read from a YAML file. Anything missing from the file keeps its default.
type Config struct {
	Name       string           `yaml:"Name"` // Sink source name
	Listen     ListenConfig     `yaml:"Listen"`
	Video      VideoConfig      `yaml:"Video"`
	Audio      AudioConfig      `yaml:"Audio"`
	Decoder    DecoderConfig    `yaml:"Decoder"`
	Reassembly ReassemblyConfig `yaml:"Reassembly"`
	Stats      StatsConfig      `yaml:"Stats"`
	Status     StatusConfig     `yaml:"Status"`
	Recorder   RecorderConfig   `yaml:"Recorder"`
	Output     OutputConfig     `yaml:"Output"`
	Log        LogConfig        `yaml:"Log"`
}

type ListenConfig struct {
	Address      string        `yaml:"Address"`
	Port         int           `yaml:"Port"`
	ReadBuffer   int           `yaml:"ReadBuffer"`   // SO_RCVBUF
	PollInterval time.Duration `yaml:"PollInterval"` // How long a single read may block
}

type VideoConfig struct {
	Width     int     `yaml:"Width"`
	Height    int     `yaml:"Height"`
	FrameRate float64 `yaml:"FrameRate"`
}

type AudioConfig struct {
	Enabled bool `yaml:"Enabled"`
}

type DecoderConfig struct {
	Command         string        `yaml:"Command"`
	Args            []string      `yaml:"Args"` // {width} and {height} are substituted
	WaitForKeyFrame bool          `yaml:"WaitForKeyFrame"`
	ProbeResolution bool          `yaml:"ProbeResolution"`
	StopTimeout     time.Duration `yaml:"StopTimeout"`
}

type ReassemblyConfig struct {
	StaleAfter time.Duration `yaml:"StaleAfter"` // 0 keeps incomplete frames until the next sequence
}

type StatsConfig struct {
	Interval time.Duration `yaml:"Interval"`
}

type StatusConfig struct {
	Address          string        `yaml:"Address"` // Empty disables the status server
	SnapshotInterval time.Duration `yaml:"SnapshotInterval"`
}

type RecorderConfig struct {
	Dir     string        `yaml:"Dir"` // Empty disables recording
	Segment time.Duration `yaml:"Segment"`
}

// OutputConfig names files (or FIFOs) that receive the raw decoded media.
type OutputConfig struct {
	Video string `yaml:"Video"`
	Audio string `yaml:"Audio"`
}

type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"` // text or json
}

var DefaultDecoderArgs = []string{
	"-hide_banner", "-loglevel", "warning",
	"-f", "h264", "-i", "pipe:0",
	"-f", "rawvideo", "-pix_fmt", "uyvy422", "-s", "{width}x{height}",
	"pipe:1",
}

func Default() *Config {
	return &Config{
		Name: "NDI Bridge",
		Listen: ListenConfig{
			Address:      "0.0.0.0",
			Port:         5990,
			ReadBuffer:   4 * 1024 * 1024,
			PollInterval: time.Second,
		},
		Video: VideoConfig{
			Width:     1920,
			Height:    1080,
			FrameRate: 30,
		},
		Audio: AudioConfig{
			Enabled: true,
		},
		Decoder: DecoderConfig{
			Command:         "ffmpeg",
			Args:            append([]string(nil), DefaultDecoderArgs...),
			ProbeResolution: true,
			StopTimeout:     3 * time.Second,
		},
		Reassembly: ReassemblyConfig{
			StaleAfter: time.Second,
		},
		Stats: StatsConfig{
			Interval: time.Second,
		},
		Status: StatusConfig{
			SnapshotInterval: 500 * time.Millisecond,
		},
		Recorder: RecorderConfig{
			Segment: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
		}
		defer f.Close()
		decoder := yaml.NewDecoder(f)
		decoder.KnownFields(true)
		if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return invalid("Name cannot be empty")
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return invalid("Listen.Port must be between 1 and 65535, got %d", c.Listen.Port)
	}
	if c.Listen.PollInterval <= 0 {
		return invalid("Listen.PollInterval must be positive, got %v", c.Listen.PollInterval)
	}
	if c.Listen.ReadBuffer < 0 {
		return invalid("Listen.ReadBuffer cannot be negative")
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return invalid("Video size must be positive, got %dx%d", c.Video.Width, c.Video.Height)
	}
	if c.Video.Width%2 != 0 {
		// UYVY packs two pixels per 4 bytes
		return invalid("Video.Width must be even, got %d", c.Video.Width)
	}
	if c.Video.FrameRate <= 0 {
		return invalid("Video.FrameRate must be positive, got %v", c.Video.FrameRate)
	}
	if _, _, err := c.FrameRate(); err != nil {
		return invalid("Video.FrameRate %v: %v", c.Video.FrameRate, err)
	}
	if c.Decoder.Command == "" {
		return invalid("Decoder.Command cannot be empty")
	}
	if c.Reassembly.StaleAfter < 0 {
		return invalid("Reassembly.StaleAfter cannot be negative")
	}
	if c.Stats.Interval <= 0 {
		return invalid("Stats.Interval must be positive, got %v", c.Stats.Interval)
	}
	if c.Recorder.Dir != "" && c.Recorder.Segment <= 0 {
		return invalid("Recorder.Segment must be positive, got %v", c.Recorder.Segment)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("Log.Format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// FrameRate returns Video.FrameRate as a fraction, e.g. 30 -> 30/1, 12.5 -> 25/2.
func (c *Config) FrameRate() (int, int, error) {
	whole := int(c.Video.FrameRate)
	rest := c.Video.FrameRate - float64(whole)
	if rest == 0 {
		return whole, 1, nil
	}
	frac, err := fractions.FloatToFrac(rest)
	if err != nil {
		return 0, 0, err
	}
	n := int(fractions.GetNumerator(frac))
	d := int(fractions.GetDenominator(frac))
	if d <= 0 {
		return 0, 0, fmt.Errorf("bad denominator %d", d)
	}
	return whole*d + n, d, nil
}

func (c *Config) ListenAddress() string {
	return c.Listen.Address + ":" + strconv.Itoa(c.Listen.Port)
}

// DecoderArgs returns Decoder.Args with the output size filled in.
func (c *Config) DecoderArgs() []string {
	r := strings.NewReplacer("{width}", strconv.Itoa(c.Video.Width), "{height}", strconv.Itoa(c.Video.Height))
	args := make([]string, len(c.Decoder.Args))
	for i, a := range c.Decoder.Args {
		args[i] = r.Replace(a)
	}
	return args
}
