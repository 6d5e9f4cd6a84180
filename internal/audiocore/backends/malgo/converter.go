package malgo

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/duplexaudio/internal/audiocore"
)

// bytesPerSample returns the size of one device sample, 0 for unknown formats
func bytesPerSample(format malgo.FormatType) int {
	switch format {
	case malgo.FormatU8:
		return 1
	case malgo.FormatS16:
		return 2
	case malgo.FormatS24:
		return 3
	case malgo.FormatS32, malgo.FormatF32:
		return 4
	default:
		return 0
	}
}

// deviceFormat maps an application sample format to the device format miniaudio
// should run. Big endian formats are rejected.
func deviceFormat(f audiocore.SampleFormat) (malgo.FormatType, error) {
	switch f {
	case audiocore.SampleS16LE:
		return malgo.FormatS16, nil
	case audiocore.SampleFloat32LE:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("malgo cannot run %s: %w", f, audiocore.ErrFormatUnsupported)
	}
}

// decodeSamples converts device samples into float32 in [-1, 1]. It returns
// the number of samples written to dst.
func decodeSamples(src []byte, format malgo.FormatType, dst []float32) (int, error) {
	size := bytesPerSample(format)
	if size == 0 {
		return 0, fmt.Errorf("unsupported source format: %v", format)
	}

	count := min(len(src)/size, len(dst))
	for i := range count {
		idx := i * size

		switch format {
		case malgo.FormatU8:
			dst[i] = float32(int32(src[idx])-128) / 128

		case malgo.FormatS16:
			dst[i] = float32(int16(binary.LittleEndian.Uint16(src[idx:idx+2]))) / 32768

		case malgo.FormatS24:
			val := int32(src[idx]) | int32(src[idx+1])<<8 | int32(src[idx+2])<<16
			// Sign extend if the most significant bit is set
			if (val & 0x800000) != 0 {
				val |= int32(-0x1000000)
			}
			dst[i] = float32(val) / 8388608

		case malgo.FormatS32:
			dst[i] = float32(float64(int32(binary.LittleEndian.Uint32(src[idx:idx+4]))) / 2147483648)

		case malgo.FormatF32:
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[idx : idx+4]))
		}
	}

	return count, nil
}

// encodeSamples writes float32 samples into a device buffer, clamping to the
// integer range where needed. It returns the number of samples written.
func encodeSamples(src []float32, format malgo.FormatType, dst []byte) (int, error) {
	size := bytesPerSample(format)
	if size == 0 {
		return 0, fmt.Errorf("unsupported target format: %v", format)
	}

	count := min(len(dst)/size, len(src))
	for i := range count {
		idx := i * size
		val := src[i]

		switch format {
		case malgo.FormatS16:
			scaled := val * 32767
			// Clamp to 16-bit range
			if scaled > 32767 {
				scaled = 32767
			} else if scaled < -32768 {
				scaled = -32768
			}
			binary.LittleEndian.PutUint16(dst[idx:idx+2], uint16(int16(scaled)))

		case malgo.FormatF32:
			binary.LittleEndian.PutUint32(dst[idx:idx+4], math.Float32bits(val))

		default:
			return 0, fmt.Errorf("unsupported target format: %v", format)
		}
	}

	return count, nil
}

// applyGain scales samples in place
func applyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}
