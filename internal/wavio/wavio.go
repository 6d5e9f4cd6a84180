// Package wavio reads and writes PCM WAV files as interleaved float32 samples.
package wavio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/duplexaudio/internal/errors"
)

// BitDepth is the sample size Writer produces
const BitDepth = 16

// readChunkSamples is how many samples ReadFile decodes per call
const readChunkSamples = 1 << 16

// Clip is a decoded WAV file
type Clip struct {
	Samples  []float32
	Rate     uint32
	Channels uint32
}

// Frames returns the number of frames in the clip
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Samples) / int(c.Channels)
}

// sampleDivisor returns the full scale value of an integer bit depth
func sampleDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768, nil
	case 24:
		return 8388608, nil
	case 32:
		return 2147483648, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// ReadFile decodes a 16, 24 or 32 bit PCM WAV file
func ReadFile(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "open-wav").
			Build()
	}
	defer func() { _ = file.Close() }()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file").
			Category(errors.CategoryFileParsing).
			Context("operation", "read-wav-header").
			Build()
	}

	divisor, err := sampleDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("bit_depth", int(decoder.BitDepth)).
			Build()
	}

	clip := &Clip{Rate: decoder.SampleRate, Channels: uint32(decoder.NumChans)}
	buf := &audio.IntBuffer{
		Data:   make([]int, readChunkSamples),
		Format: &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: int(decoder.NumChans)},
	}

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryFileParsing).
				Context("operation", "decode-wav").
				Build()
		}
		if n == 0 {
			break
		}
		for _, sample := range buf.Data[:n] {
			clip.Samples = append(clip.Samples, float32(sample)/divisor)
		}
	}

	return clip, nil
}

// Writer encodes float32 samples into a 16 bit PCM WAV file
type Writer struct {
	path     string
	file     *os.File
	encoder  *wav.Encoder
	format   *audio.Format
	scratch  []int
	frames   int
	channels int
}

// NewWriter creates path, and any missing parent directories, for writing
func NewWriter(path string, rate, channels uint32) (*Writer, error) {
	if channels == 0 || rate == 0 {
		return nil, errors.Newf("wav writer needs rate and channels").
			Category(errors.CategoryValidation).
			Context("rate", rate).
			Context("channels", channels).
			Build()
	}

	// Create the directory structure if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.FileError(err, path, 0)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}

	return &Writer{
		path:     path,
		file:     file,
		encoder:  wav.NewEncoder(file, int(rate), BitDepth, int(channels), 1),
		format:   &audio.Format{SampleRate: int(rate), NumChannels: int(channels)},
		channels: int(channels),
	}, nil
}

// Write appends interleaved samples, clamping them to [-1, 1]
func (w *Writer) Write(samples []float32) error {
	if cap(w.scratch) < len(samples) {
		w.scratch = make([]int, len(samples))
	}
	ints := w.scratch[:len(samples)]
	for i, s := range samples {
		s = max(-1, min(1, s))
		ints[i] = int(s * 32767)
	}

	if err := w.encoder.Write(&audio.IntBuffer{Data: ints, Format: w.format, SourceBitDepth: BitDepth}); err != nil {
		return errors.Wrap(err).
			Category(errors.CategoryFileIO).
			FileContext(w.path, int64(w.frames*w.channels*BitDepth/8)).
			Context("operation", "encode-wav").
			Build()
	}
	w.frames += len(samples) / w.channels
	return nil
}

// Frames returns the number of frames written so far
func (w *Writer) Frames() int {
	return w.frames
}

// Close finalizes the WAV header and closes the file
func (w *Writer) Close() error {
	encErr := w.encoder.Close()
	fileErr := w.file.Close()
	return errors.Join(encErr, fileErr)
}
