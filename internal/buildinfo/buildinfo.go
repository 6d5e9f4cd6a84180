// Package buildinfo carries build-time metadata that is not part of user configuration
package buildinfo

import (
	"fmt"

	"github.com/google/uuid"
)

// UnknownValue is reported for metadata that was not injected at build time
const UnknownValue = "unknown"

// Info describes the running binary
type Info struct {
	version   string
	buildDate string
	systemID  string
}

// New returns build metadata with a fresh system id for this process
func New(version, buildDate string) *Info {
	return &Info{
		version:   version,
		buildDate: buildDate,
		systemID:  uuid.NewString(),
	}
}

// Version returns the build version string
func (i *Info) Version() string {
	if i == nil || i.version == "" {
		return UnknownValue
	}
	return i.version
}

// BuildDate returns the build date string
func (i *Info) BuildDate() string {
	if i == nil || i.buildDate == "" {
		return UnknownValue
	}
	return i.buildDate
}

// SystemID identifies this process in error reports
func (i *Info) SystemID() string {
	if i == nil || i.systemID == "" {
		return UnknownValue
	}
	return i.systemID
}

func (i *Info) String() string {
	return fmt.Sprintf("%s (built %s)", i.Version(), i.BuildDate())
}
