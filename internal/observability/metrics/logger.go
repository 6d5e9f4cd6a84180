package metrics

import "github.com/tphakala/duplexaudio/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("metrics")
