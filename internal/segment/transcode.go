package segment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Transcoder converts captured WAV files to AAC in an M4A container
// by running ffmpeg.
type Transcoder struct {
	FFmpegPath string
}

// NewTranscoder resolves the ffmpeg binary; an empty path means "ffmpeg"
// from PATH.
func NewTranscoder(ffmpegPath string) (*Transcoder, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	path, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	return &Transcoder{FFmpegPath: path}, nil
}

// Transcode encodes src into dst using the given format
func (t *Transcoder) Transcode(ctx context.Context, src, dst string, format Format) error {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-c:a", "aac",
		"-b:a", strconv.Itoa(format.Quality.Bitrate()) + "k",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-f", "mp4",
		dst,
	}

	cmd := exec.CommandContext(ctx, t.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("transcoding with ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
