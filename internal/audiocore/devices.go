package audiocore

import (
	"fmt"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/duplexaudio/internal/logger"
	"github.com/tphakala/duplexaudio/internal/observability/metrics"
)

// EnumerateDevices lists the devices usable in the directions of typ. A device
// with both inputs and outputs is reported once per direction. Results are
// cached until the device collection or a default device changes.
func (c *Context) EnumerateDevices(typ DeviceType) ([]DeviceInfo, error) {
	if typ&DeviceTypeAll == 0 {
		return nil, newError(KindInvalidParameter, "enumerate_devices", nil, "invalid device type %d", int(typ)).Build()
	}

	key := fmt.Sprintf("devices:%d", int(typ))
	if cached, ok := c.devices.Get(key); ok {
		if infos, ok := cached.([]DeviceInfo); ok {
			return slices.Clone(infos), nil
		}
	}

	started := time.Now()
	v, err, shared := c.enum.Do(key, func() (any, error) {
		infos, err := c.enumerate(typ)
		if err != nil {
			return nil, err
		}
		c.devices.Set(key, infos, cache.DefaultExpiration)
		return infos, nil
	})
	if !shared {
		c.metrics.operation(metrics.OpEnumerate, err, started)
	}
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]DeviceInfo)), nil
}

func (c *Context) enumerate(typ DeviceType) ([]DeviceInfo, error) {
	ids, err := c.backend.Devices()
	if err != nil {
		return nil, wrapBackend(err, "enumerate_devices", DirectionOutput)
	}

	defaults := make(map[Direction]DeviceID, 2)
	for _, dir := range typ.directions() {
		id, err := c.backend.DefaultDevice(dir)
		if err != nil {
			c.log.Debug("no default device", logger.String("direction", dir.String()), logger.Error(err))
			continue
		}
		defaults[dir] = id
	}

	infos := make([]DeviceInfo, 0, len(ids))
	for _, id := range ids {
		for _, dir := range typ.directions() {
			props, err := c.backend.DeviceProperties(id, dir)
			if err != nil {
				c.log.Debug("skipping device", logger.String("device", string(id)), logger.String("direction", dir.String()), logger.Error(err))
				continue
			}
			if props.Channels == 0 {
				continue
			}
			isDefault := false
			if d, ok := defaults[dir]; ok && d == id {
				isDefault = true
			}
			infos = append(infos, newDeviceInfo(id, dir, props, isDefault))
		}
	}
	return infos, nil
}

func newDeviceInfo(id DeviceID, dir Direction, props DeviceProperties, isDefault bool) DeviceInfo {
	info := DeviceInfo{
		ID:            id,
		DevID:         props.UID,
		FriendlyName:  props.Name,
		GroupID:       props.UID,
		VendorName:    props.Vendor,
		Type:          deviceTypeFor(dir),
		State:         DeviceStateEnabled,
		Preferred:     DevicePrefNone,
		Format:        DeviceFormatAll,
		DefaultFormat: SampleFloat32NE,
		MaxChannels:   props.Channels,
		DefaultRate:   props.DefaultRate,
		MinRate:       props.MinRate,
		MaxRate:       props.MaxRate,
	}
	if info.DevID == "" {
		info.DevID = string(id)
		info.GroupID = string(id)
	}
	if props.DataSourceName != "" {
		info.FriendlyName = props.DataSourceName
	}
	if isDefault {
		info.Preferred = DevicePrefAll
	}

	if props.BufferFrameMin > 0 && props.BufferFrameMax > 0 {
		info.LatencyLo = props.PresentationLatency + props.BufferFrameMin
		info.LatencyHi = props.PresentationLatency + props.BufferFrameMax
	} else {
		info.LatencyLo = framesFor(fallbackLatencyLo, props.DefaultRate)
		info.LatencyHi = framesFor(fallbackLatencyHi, props.DefaultRate)
	}
	return info
}

func framesFor(d time.Duration, rate uint32) uint32 {
	return uint32(d.Seconds() * float64(rate))
}
