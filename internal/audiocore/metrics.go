package audiocore

import (
	"time"

	"github.com/tphakala/duplexaudio/internal/observability/metrics"
)

// engineMetrics forwards to an optional EngineMetrics. The zero value records nothing.
type engineMetrics struct {
	m *metrics.EngineMetrics
}

func (e engineMetrics) operation(op string, err error, started time.Time) {
	if e.m == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		e.m.RecordError(op, KindOf(err).String())
	}
	e.m.RecordOperation(op, status)
	e.m.RecordDuration(op, time.Since(started).Seconds())
}

func (e engineMetrics) streams(active int, globalLatency uint32) {
	if e.m == nil {
		return
	}
	e.m.UpdateActiveStreams(active)
	e.m.UpdateGlobalLatency(globalLatency)
}

func (e engineMetrics) state(s State) {
	if e.m == nil {
		return
	}
	e.m.RecordStateTransition(s.String())
}

func (e engineMetrics) deviceSwitch(reason Property, err error, started time.Time) {
	if e.m == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		e.m.RecordError(metrics.OpDeviceSwitch, KindOf(err).String())
	}
	e.m.RecordDeviceSwitch(reason.String(), status, time.Since(started).Seconds())
}

func (e engineMetrics) bufferSize(dir Direction, status string, polls int) {
	if e.m == nil {
		return
	}
	e.m.RecordBufferSizeNegotiation(dir.String(), status, polls)
}

func (e engineMetrics) silence(frames uint64) {
	if e.m == nil || frames == 0 {
		return
	}
	e.m.RecordSilencePadding(frames)
}

func (e engineMetrics) overflows(count uint64) {
	if e.m == nil || count == 0 {
		return
	}
	e.m.RecordCaptureOverflow(count)
}

func (e engineMetrics) callbackError(path string) {
	if e.m == nil {
		return
	}
	e.m.RecordCallbackError(path)
}
