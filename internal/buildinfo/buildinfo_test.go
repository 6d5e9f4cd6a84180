package buildinfo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		info      *Info
		version   string
		buildDate string
	}{
		{"nil info", nil, UnknownValue, UnknownValue},
		{"empty values", New("", ""), UnknownValue, UnknownValue},
		{"release", New("1.2.0", "2026-10-01"), "1.2.0", "2026-10-01"},
		{"pre-release", New("1.3.0-rc.1", ""), "1.3.0-rc.1", UnknownValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.version, tt.info.Version())
			assert.Equal(t, tt.buildDate, tt.info.BuildDate())
		})
	}
}

func TestSystemIDIsUniquePerInfo(t *testing.T) {
	t.Parallel()

	a, b := New("dev", ""), New("dev", "")
	_, err := uuid.Parse(a.SystemID())
	require.NoError(t, err)
	assert.NotEqual(t, a.SystemID(), b.SystemID())
	assert.Equal(t, UnknownValue, (*Info)(nil).SystemID())
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.2.0 (built 2026-10-01)", New("1.2.0", "2026-10-01").String())
	assert.Equal(t, "unknown (built unknown)", (*Info)(nil).String())
}
