package malgo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/duplexaudio/internal/audiocore"
	"github.com/tphakala/duplexaudio/internal/logger"
)

// deviceSnapshot is what the watcher compares between polls
type deviceSnapshot struct {
	outputs       []audiocore.DeviceID
	inputs        []audiocore.DeviceID
	defaultOutput audiocore.DeviceID
	defaultInput  audiocore.DeviceID
}

// snapshot reads the current device lists and defaults
func (b *Backend) snapshot() (deviceSnapshot, error) {
	var snap deviceSnapshot
	for _, dir := range []audiocore.Direction{audiocore.DirectionOutput, audiocore.DirectionInput} {
		infos, err := b.devices(dir)
		if err != nil {
			return deviceSnapshot{}, err
		}
		ids := make([]audiocore.DeviceID, 0, len(infos))
		for i := range infos {
			ids = append(ids, deviceIDFor(infos[i].ID))
		}
		var def audiocore.DeviceID
		if info, ok := defaultInfo(infos); ok {
			def = deviceIDFor(info.ID)
		}
		if dir == audiocore.DirectionOutput {
			snap.outputs, snap.defaultOutput = ids, def
		} else {
			snap.inputs, snap.defaultInput = ids, def
		}
	}
	return snap, nil
}

// diffSnapshots returns the events that turn prev into next, in the order a
// platform would publish them: removed devices die first, then the
// collection changes, then the defaults move.
func diffSnapshots(prev, next deviceSnapshot) []audiocore.PropertyEvent {
	var events []audiocore.PropertyEvent

	var gone []audiocore.DeviceID
	for _, id := range slices.Concat(prev.outputs, prev.inputs) {
		if !slices.Contains(next.outputs, id) && !slices.Contains(next.inputs, id) && !slices.Contains(gone, id) {
			gone = append(gone, id)
		}
	}
	for _, id := range gone {
		events = append(events, audiocore.PropertyEvent{Device: id, Property: audiocore.PropertyDeviceIsAlive})
	}

	if !sameMembers(prev.outputs, next.outputs) || !sameMembers(prev.inputs, next.inputs) {
		events = append(events, audiocore.PropertyEvent{Device: audiocore.SystemObject, Property: audiocore.PropertyDeviceCollection})
	}
	if prev.defaultOutput != next.defaultOutput {
		events = append(events, audiocore.PropertyEvent{Device: audiocore.SystemObject, Property: audiocore.PropertyDefaultOutputDevice})
	}
	if prev.defaultInput != next.defaultInput {
		events = append(events, audiocore.PropertyEvent{Device: audiocore.SystemObject, Property: audiocore.PropertyDefaultInputDevice})
	}
	return events
}

func sameMembers(a, b []audiocore.DeviceID) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// watcher polls the backend and turns differences into property events
type watcher struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startWatcher(b *Backend, interval time.Duration, initial deviceSnapshot) *watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{cancel: cancel}

	w.wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := initial
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			next, err := b.snapshot()
			if err != nil {
				b.log.Warn("device poll failed", logger.Error(err))
				continue
			}
			for _, ev := range diffSnapshots(prev, next) {
				if ctx.Err() != nil {
					return
				}
				b.fire(ev)
			}
			prev = next
		}
	})
	return w
}

func (w *watcher) stop() {
	w.cancel()
	w.wg.Wait()
}
