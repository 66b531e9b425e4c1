package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
	"github.com/sirupsen/logrus"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Recording.RotationInterval != 30*time.Second || cfg.Recording.LevelInterval != 50*time.Millisecond {
		t.Errorf("intervals = %v / %v", cfg.Recording.RotationInterval, cfg.Recording.LevelInterval)
	}
	if cfg.Upload.Timeout != 30*time.Second || cfg.Upload.RetainSegments {
		t.Errorf("upload = %+v", cfg.Upload)
	}
	if cfg.Format() != segment.DefaultFormat() {
		t.Errorf("format = %+v", cfg.Format())
	}
	if cfg.Storage.Prefix != "recording" || cfg.Capture.Driver != "portaudio" || cfg.Recording.VADMode != -1 {
		t.Errorf("config = %+v", cfg)
	}

	// the endpoint has no default
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "upload.endpoint") {
		t.Fatalf("Validate = %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
upload:
  endpoint: http://analysis.local/segments
  max_attempts: 5
recording:
  rotation_interval: 10s
  encoding: pcm
capture:
  driver: audiosocket
  listen: 0.0.0.0:9000
log:
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RECOGNIZER_RECORDING_LEVEL_INTERVAL", "100ms")
	t.Setenv("RECOGNIZER_UPLOAD_MAX_ATTEMPTS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Upload.Endpoint != "http://analysis.local/segments" {
		t.Errorf("endpoint = %q", cfg.Upload.Endpoint)
	}
	if cfg.Upload.MaxAttempts != 2 {
		t.Errorf("env override ignored: max_attempts = %d", cfg.Upload.MaxAttempts)
	}
	if cfg.Recording.RotationInterval != 10*time.Second || cfg.Recording.LevelInterval != 100*time.Millisecond {
		t.Errorf("intervals = %v / %v", cfg.Recording.RotationInterval, cfg.Recording.LevelInterval)
	}
	if cfg.Format().Encoding != segment.EncodingPCM || cfg.Capture.Listen != "0.0.0.0:9000" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Upload.Endpoint = "https://analysis.example/upload"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero rotation", func(c *Config) { c.Recording.RotationInterval = 0 }, "rotation_interval"},
		{"negative level", func(c *Config) { c.Recording.LevelInterval = -time.Millisecond }, "level_interval"},
		{"bad endpoint", func(c *Config) { c.Upload.Endpoint = "ftp://x" }, "not an http(s) URL"},
		{"zero attempts", func(c *Config) { c.Upload.MaxAttempts = 0 }, "max_attempts"},
		{"encoding", func(c *Config) { c.Recording.Encoding = "mp3" }, "recording.encoding"},
		{"quality", func(c *Config) { c.Recording.Quality = "ultra" }, "recording.quality"},
		{"driver", func(c *Config) { c.Capture.Driver = "alsa" }, "capture.driver"},
		{"vad mode", func(c *Config) { c.Recording.VADMode = 4 }, "vad_mode"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDump(t *testing.T) {
	cfg := validConfig(t)
	cfg.Redis.Password = "secret"

	var buf bytes.Buffer
	if err := cfg.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"rotation_interval: 30s", "level_interval: 50ms", "timeout: 30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "secret") {
		t.Error("dump leaked the redis password")
	}
	if cfg.Redis.Password != "secret" {
		t.Error("dump modified the config")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := validConfig(t)
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	var buf bytes.Buffer
	log, err := cfg.NewLogger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v", log.GetLevel())
	}
	log.WithField("segment_id", "x").Info("hello")
	if !strings.Contains(buf.String(), `"segment_id":"x"`) {
		t.Errorf("output = %s", buf.String())
	}
}
