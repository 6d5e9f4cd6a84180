package audiocore

import (
	"fmt"

	"github.com/tphakala/duplexaudio/internal/errors"
)

// ComponentAudioCore identifies audiocore errors
const ComponentAudioCore = "audiocore"

// Kind classifies engine errors
type Kind int

const (
	KindNone Kind = iota
	KindInvalidParameter
	KindDeviceUnavailable
	KindFormatUnsupported
	KindTimeout
	KindResamplerFailure
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidParameter:
		return "invalid_parameter"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindFormatUnsupported:
		return "format_unsupported"
	case KindTimeout:
		return "timeout"
	case KindResamplerFailure:
		return "resampler_failure"
	default:
		return "generic"
	}
}

// Sentinel errors, matched with errors.Is.
var (
	ErrInvalidParameter  = errors.NewStd("invalid parameter")
	ErrDeviceUnavailable = errors.NewStd("device unavailable")
	ErrFormatUnsupported = errors.NewStd("format not supported")
	ErrTimeout           = errors.NewStd("operation timed out")
	ErrResamplerFailure  = errors.NewStd("resampler failure")
	ErrGeneric           = errors.NewStd("audio backend error")

	// ErrCaptureOverflow is returned by LinearCaptureBuffer when a push would exceed capacity
	ErrCaptureOverflow = errors.NewStd("capture buffer overflow")

	// ErrContextDestroyed is returned by operations on a destroyed Context
	ErrContextDestroyed = errors.NewStd("context destroyed")
)

var kindCategories = map[Kind]errors.ErrorCategory{
	KindInvalidParameter:  errors.CategoryValidation,
	KindDeviceUnavailable: errors.CategoryAudioSource,
	KindFormatUnsupported: errors.CategoryFormat,
	KindTimeout:           errors.CategoryTimeout,
	KindResamplerFailure:  errors.CategoryResampler,
	KindGeneric:           errors.CategoryAudio,
}

var kindSentinels = map[Kind]error{
	KindInvalidParameter:  ErrInvalidParameter,
	KindDeviceUnavailable: ErrDeviceUnavailable,
	KindFormatUnsupported: ErrFormatUnsupported,
	KindTimeout:           ErrTimeout,
	KindResamplerFailure:  ErrResamplerFailure,
	KindGeneric:           ErrGeneric,
}

// newError builds an enhanced error of the given kind. cause may be nil.
func newError(kind Kind, operation string, cause error, format string, args ...any) *errors.ErrorBuilder {
	sentinel := kindSentinels[kind]
	if sentinel == nil {
		sentinel = ErrGeneric
	}
	msg := fmt.Sprintf(format, args...)

	var err error
	if cause != nil {
		err = fmt.Errorf("%s: %w: %w", msg, sentinel, cause)
	} else {
		err = fmt.Errorf("%s: %w", msg, sentinel)
	}

	return errors.New(err).
		Component(ComponentAudioCore).
		Category(kindCategories[kind]).
		Context("operation", operation)
}

// KindOf returns the engine error kind of err.
// Errors that carry no engine sentinel report KindGeneric; nil reports KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range []Kind{KindInvalidParameter, KindDeviceUnavailable, KindFormatUnsupported, KindTimeout, KindResamplerFailure} {
		if errors.Is(err, kindSentinels[k]) {
			return k
		}
	}
	return KindGeneric
}

// wrapBackend converts a backend failure into an engine error, keeping the
// backend's own kind when it already carries one.
func wrapBackend(err error, operation string, dir Direction) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == KindNone {
		kind = KindGeneric
	}
	return newError(kind, operation, err, "%s failed", operation).
		Context("direction", dir.String()).
		Build()
}
