package audiocore

import (
	"time"

	"github.com/tphakala/duplexaudio/internal/errors"
	"github.com/tphakala/duplexaudio/internal/logger"
)

// installListenersLocked subscribes the stream to the property changes that
// trigger a device switch. s.mu must be held.
func (s *Stream) installListenersLocked() error {
	backend := s.ctx.backend
	add := func(device DeviceID, prop Property, dir Direction) error {
		id, err := backend.AddPropertyListener(device, prop, s.onPropertyChanged)
		if err != nil {
			return newError(KindOf(err), "add_property_listener", err, "cannot listen for %s", prop).
				DeviceContext(dir.String(), string(device)).
				Build()
		}
		s.listeners = append(s.listeners, id)
		return nil
	}

	var err error
	if s.outputUnit != nil {
		err = errors.Join(err,
			add(s.outputUnit.Device(), PropertyDataSource, DirectionOutput),
			add(SystemObject, PropertyDefaultOutputDevice, DirectionOutput))
	}
	if s.inputUnit != nil && err == nil {
		err = errors.Join(err,
			add(s.inputUnit.Device(), PropertyDataSource, DirectionInput),
			add(SystemObject, PropertyDefaultInputDevice, DirectionInput),
			add(s.inputUnit.Device(), PropertyDeviceIsAlive, DirectionInput))
	}
	if err != nil {
		if rmErr := s.uninstallListenersLocked(); rmErr != nil {
			s.log.Warn("failed to remove listeners after install failure", logger.Error(rmErr))
		}
		return err
	}
	return nil
}

// uninstallListenersLocked removes every listener the stream installed. s.mu must be held.
func (s *Stream) uninstallListenersLocked() error {
	var errs []error
	for _, id := range s.listeners {
		if err := s.ctx.backend.RemovePropertyListener(id); err != nil {
			errs = append(errs, err)
		}
	}
	s.listeners = s.listeners[:0]
	if len(errs) > 0 {
		return wrapBackend(errors.Join(errs...), "remove_property_listener", DirectionOutput)
	}
	return nil
}

// onPropertyChanged runs on a backend goroutine. It records the change and
// queues the switch sequence on the Context's serial queue.
func (s *Stream) onPropertyChanged(ev PropertyEvent) {
	if s.destroyed.Load() {
		return
	}

	s.switchingDevice.Store(true)
	log := s.log.With(logger.String("property", ev.Property.String()), logger.String("device", string(ev.Device)))

	s.mu.Lock()
	switch ev.Property {
	case PropertyDefaultOutputDevice:
		log.Info("default output device changed")
		s.outputDevice = DefaultDevice
	case PropertyDefaultInputDevice:
		log.Info("default input device changed")
		s.inputDevice = DefaultDevice
	case PropertyDeviceIsAlive:
		if s.isDefaultInput {
			s.mu.Unlock()
			s.switchingDevice.Store(false)
			log.Debug("default input device went away, waiting for the default change")
			return
		}
		log.Info("input device went away, falling back to the default input")
		s.inputDevice = DefaultDevice
	case PropertyDataSource:
		log.Info("data source changed")
	default:
		s.mu.Unlock()
		s.switchingDevice.Store(false)
		return
	}

	if s.deviceChangedCb != nil {
		s.deviceChangedCb(s)
	}
	s.mu.Unlock()

	started := time.Now()
	if !s.ctx.queue.Async(func() { s.switchDevice(ev.Property, started) }) {
		s.switchingDevice.Store(false)
	}
}

// switchDevice rebuilds the stream on the serial queue
func (s *Stream) switchDevice(reason Property, started time.Time) {
	defer s.switchingDevice.Store(false)

	if s.destroyed.Load() {
		return
	}

	restarted, err := s.reinit()
	s.ctx.metrics.deviceSwitch(reason, err, started)
	if err == nil {
		s.log.Info("stream switched device",
			logger.String("reason", reason.String()),
			logger.Bool("restarted", restarted),
			logger.Duration("duration", time.Since(started)))
		return
	}

	s.log.Error("device switch failed, stopping stream", logger.String("reason", reason.String()), logger.Error(err))

	s.ctx.mu.Lock()
	s.mu.Lock()
	s.shutdown.Store(true)
	if rmErr := s.uninstallListenersLocked(); rmErr != nil {
		s.log.Warn("failed to remove listeners after switch failure", logger.Error(rmErr))
	}
	s.closeUnitsLocked()
	s.lifecycle.Store(int32(LifecycleStopped))
	s.mu.Unlock()
	s.ctx.mu.Unlock()

	s.notify(StateStopped)
}

// reinit closes and reopens the units against the current device ids,
// restarting them when the stream is running at the time the switch runs.
// A Start or Stop issued while the switch was queued is honoured.
func (s *Stream) reinit() (restarted bool, err error) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	running := !s.shutdown.Load()
	if running {
		if err := s.stopUnitsLocked(); err != nil {
			s.log.Warn("failed to stop units before switch", logger.Error(err))
		}
	}
	if err := s.uninstallListenersLocked(); err != nil {
		s.log.Warn("failed to remove listeners before switch", logger.Error(err))
	}
	s.flushCountersLocked()
	s.closeUnitsLocked()

	if err := s.setupLocked(); err != nil {
		return false, err
	}

	if running {
		if err := s.startUnitsLocked(); err != nil {
			return false, err
		}
	}

	return running, s.installListenersLocked()
}
