package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. RECOGNIZER_UPLOAD_ENDPOINT
const EnvPrefix = "RECOGNIZER"

type Upload struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	RetainSegments bool          `mapstructure:"retain_segments" yaml:"retain_segments"`
}

type Recording struct {
	RotationInterval time.Duration `mapstructure:"rotation_interval" yaml:"rotation_interval"`
	LevelInterval    time.Duration `mapstructure:"level_interval" yaml:"level_interval"`
	SampleRate       int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels         int           `mapstructure:"channels" yaml:"channels"`
	Encoding         string        `mapstructure:"encoding" yaml:"encoding"`
	Quality          string        `mapstructure:"quality" yaml:"quality"`
	FFmpegPath       string        `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	SkipSilent       bool          `mapstructure:"skip_silent" yaml:"skip_silent"`
	VADMode          int           `mapstructure:"vad_mode" yaml:"vad_mode"` // -1 disables the voice gate
}

type Storage struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

type Capture struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // portaudio or audiosocket
	Device string `mapstructure:"device" yaml:"device"`
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type HTTP struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

type History struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type Redis struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
	Restore  bool   `mapstructure:"restore" yaml:"restore"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type Config struct {
	Upload    Upload    `mapstructure:"upload" yaml:"upload"`
	Recording Recording `mapstructure:"recording" yaml:"recording"`
	Storage   Storage   `mapstructure:"storage" yaml:"storage"`
	Capture   Capture   `mapstructure:"capture" yaml:"capture"`
	HTTP      HTTP      `mapstructure:"http" yaml:"http"`
	History   History   `mapstructure:"history" yaml:"history"`
	Redis     Redis     `mapstructure:"redis" yaml:"redis"`
	Log       Log       `mapstructure:"log" yaml:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upload.endpoint", "")
	v.SetDefault("upload.timeout", 30*time.Second)
	v.SetDefault("upload.max_attempts", 3)
	v.SetDefault("upload.retry_backoff", time.Second)
	v.SetDefault("upload.retain_segments", false)

	v.SetDefault("recording.rotation_interval", 30*time.Second)
	v.SetDefault("recording.level_interval", 50*time.Millisecond)
	v.SetDefault("recording.sample_rate", 16000)
	v.SetDefault("recording.channels", 1)
	v.SetDefault("recording.encoding", string(segment.EncodingAAC))
	v.SetDefault("recording.quality", string(segment.QualityHigh))
	v.SetDefault("recording.ffmpeg_path", "ffmpeg")
	v.SetDefault("recording.skip_silent", false)
	v.SetDefault("recording.vad_mode", -1)

	v.SetDefault("storage.dir", filepath.Join(os.TempDir(), "speaker-recognizer"))
	v.SetDefault("storage.prefix", "recording")

	v.SetDefault("capture.driver", "portaudio")
	v.SetDefault("capture.device", "")
	v.SetDefault("capture.listen", "127.0.0.1:9092")

	v.SetDefault("http.listen", "127.0.0.1:8089")
	v.SetDefault("history.path", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "speaker-recognizer:totals")
	v.SetDefault("redis.restore", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the YAML file at path (optional), then environment
// overrides, on top of the defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Upload.Endpoint != "", "upload.endpoint is required")
	if c.Upload.Endpoint != "" {
		u, err := url.Parse(c.Upload.Endpoint)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
			"upload.endpoint %q is not an http(s) URL", c.Upload.Endpoint)
	}
	check(c.Upload.Timeout > 0, "upload.timeout must be positive")
	check(c.Upload.MaxAttempts >= 1, "upload.max_attempts must be at least 1")
	check(c.Upload.RetryBackoff >= 0, "upload.retry_backoff must not be negative")

	check(c.Recording.RotationInterval > 0, "recording.rotation_interval must be positive")
	check(c.Recording.LevelInterval > 0, "recording.level_interval must be positive")
	check(c.Recording.SampleRate > 0, "recording.sample_rate must be positive")
	check(c.Recording.Channels == 1 || c.Recording.Channels == 2, "recording.channels must be 1 or 2")
	switch segment.Encoding(c.Recording.Encoding) {
	case segment.EncodingAAC, segment.EncodingPCM:
	default:
		check(false, "recording.encoding %q must be aac or pcm", c.Recording.Encoding)
	}
	switch segment.Quality(c.Recording.Quality) {
	case segment.QualityMin, segment.QualityLow, segment.QualityMedium, segment.QualityHigh, segment.QualityMax:
	default:
		check(false, "recording.quality %q is unknown", c.Recording.Quality)
	}
	check(c.Recording.VADMode >= -1 && c.Recording.VADMode <= 3, "recording.vad_mode must be between -1 and 3")

	check(c.Storage.Dir != "", "storage.dir is required")
	switch c.Capture.Driver {
	case "portaudio":
	case "audiosocket":
		check(c.Capture.Listen != "", "capture.listen is required for the audiosocket driver")
	default:
		check(false, "capture.driver %q must be portaudio or audiosocket", c.Capture.Driver)
	}

	_, err := logrus.ParseLevel(c.Log.Level)
	check(err == nil, "log.level %q is unknown", c.Log.Level)
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q must be text or json", c.Log.Format)

	return errors.Join(errs...)
}

// Format returns the segment format described by the recording section
func (c *Config) Format() segment.Format {
	return segment.Format{
		SampleRate: c.Recording.SampleRate,
		Channels:   c.Recording.Channels,
		Encoding:   segment.Encoding(c.Recording.Encoding),
		Quality:    segment.Quality(c.Recording.Quality),
	}
}

// NewLogger builds the process logger from the log section
func (c *Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// Dump writes the effective configuration as YAML. The redis password
// is masked.
func (c *Config) Dump(w io.Writer) error {
	out := *c
	if out.Redis.Password != "" {
		out.Redis.Password = "********"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

type uploadYAML struct {
	Endpoint       string `yaml:"endpoint"`
	Timeout        string `yaml:"timeout"`
	MaxAttempts    int    `yaml:"max_attempts"`
	RetryBackoff   string `yaml:"retry_backoff"`
	RetainSegments bool   `yaml:"retain_segments"`
}

// MarshalYAML writes durations in time.Duration notation
func (u Upload) MarshalYAML() (any, error) {
	return uploadYAML{
		Endpoint:       u.Endpoint,
		Timeout:        u.Timeout.String(),
		MaxAttempts:    u.MaxAttempts,
		RetryBackoff:   u.RetryBackoff.String(),
		RetainSegments: u.RetainSegments,
	}, nil
}

type recordingYAML struct {
	RotationInterval string `yaml:"rotation_interval"`
	LevelInterval    string `yaml:"level_interval"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	Encoding         string `yaml:"encoding"`
	Quality          string `yaml:"quality"`
	FFmpegPath       string `yaml:"ffmpeg_path"`
	SkipSilent       bool   `yaml:"skip_silent"`
	VADMode          int    `yaml:"vad_mode"`
}

func (r Recording) MarshalYAML() (any, error) {
	return recordingYAML{
		RotationInterval: r.RotationInterval.String(),
		LevelInterval:    r.LevelInterval.String(),
		SampleRate:       r.SampleRate,
		Channels:         r.Channels,
		Encoding:         r.Encoding,
		Quality:          r.Quality,
		FFmpegPath:       r.FFmpegPath,
		SkipSilent:       r.SkipSilent,
		VADMode:          r.VADMode,
	}, nil
}
