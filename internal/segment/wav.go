package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const wavHeaderSize = 44

// WAVWriter streams 16-bit PCM into a WAV file. Sizes in the header are
// written as zero and patched on Close.
type WAVWriter struct {
	file       *os.File
	buf        *bufio.Writer
	sampleRate int
	channels   int
	dataBytes  uint32
}

// CreateWAV creates path and writes a provisional header
func CreateWAV(path string, sampleRate, channels int) (*WAVWriter, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid WAV format: %d Hz, %d channels", sampleRate, channels)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}
	w := &WAVWriter{
		file:       f,
		buf:        bufio.NewWriter(f),
		sampleRate: sampleRate,
		channels:   channels,
	}
	if err := w.writeHeader(w.buf, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

func (w *WAVWriter) writeHeader(out io.Writer, dataSize uint32) error {
	bitsPerSample := uint16(16)
	blockAlign := uint16(w.channels) * bitsPerSample / 8
	byteRate := uint32(w.sampleRate) * uint32(blockAlign)

	hdr := make([]byte, wavHeaderSize)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	_, err := out.Write(hdr)
	return err
}

// WriteSamples appends interleaved samples
func (w *WAVWriter) WriteSamples(samples []int16) error {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	n, err := w.buf.Write(b)
	w.dataBytes += uint32(n)
	return err
}

// Samples returns how many samples have been written
func (w *WAVWriter) Samples() int64 {
	return int64(w.dataBytes / 2)
}

// Close flushes buffered data and patches the header sizes
func (w *WAVWriter) Close() error {
	if w.file == nil {
		return nil
	}
	defer func() { w.file = nil }()

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush WAV data: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek WAV header: %w", err)
	}
	if err := w.writeHeader(w.file, w.dataBytes); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to patch WAV header: %w", err)
	}
	return w.file.Close()
}

// WAVInfo is the format of a decoded WAV file
type WAVInfo struct {
	SampleRate int
	Channels   int
}

// ReadWAV reads a 16-bit PCM WAV file and returns its samples
func ReadWAV(path string) (WAVInfo, []int16, error) {
	file, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, nil, err
	}
	defer file.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(file, header); err != nil {
		return WAVInfo{}, nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVInfo{}, nil, fmt.Errorf("not a valid WAV file")
	}

	var info WAVInfo
	chunk := make([]byte, 8)
	for {
		if _, err := io.ReadFull(file, chunk); err != nil {
			return WAVInfo{}, nil, fmt.Errorf("failed to find data chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(file, body); err != nil {
				return WAVInfo{}, nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if size < 16 || binary.LittleEndian.Uint16(body[14:16]) != 16 {
				return WAVInfo{}, nil, fmt.Errorf("only 16-bit PCM is supported")
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
		case "data":
			data, err := io.ReadAll(io.LimitReader(file, int64(size)))
			if err != nil {
				return WAVInfo{}, nil, fmt.Errorf("failed to read data chunk: %w", err)
			}
			samples := make([]int16, len(data)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
			}
			return info, samples, nil
		default:
			if _, err := file.Seek(int64(size), io.SeekCurrent); err != nil {
				return WAVInfo{}, nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}
