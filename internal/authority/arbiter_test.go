package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pondcontrol/internal/device"
	"pondcontrol/internal/schedule"
)

func TestResolveSkipsUnderAutoMode(t *testing.T) {
	arbiter := NewArbiter()
	assert.Equal(t, Skip, arbiter.Resolve(true))
}

func TestResolveAppliesAsManualOtherwise(t *testing.T) {
	arbiter := NewArbiter()
	assert.Equal(t, ApplyAsManual, arbiter.Resolve(false))
}

func TestTransitionPatchForcesManualMode(t *testing.T) {
	on := TransitionPatch(schedule.KindOn)
	require.NotNil(t, on.On)
	require.NotNil(t, on.Mode)
	assert.True(t, *on.On)
	assert.Equal(t, device.ModeManual, *on.Mode)

	off := TransitionPatch(schedule.KindOff)
	require.NotNil(t, off.On)
	require.NotNil(t, off.Mode)
	assert.False(t, *off.On)
	assert.Equal(t, device.ModeManual, *off.Mode)
}

// A schedule-driven transition never hands a device back to auto mode, even
// when the device was auto before the firing. Re-enabling auto is reserved
// for external actors.
func TestTransitionLeavesDeviceManual(t *testing.T) {
	d := device.Device{ID: "pump-1", Type: device.TypeMotor, Mode: device.ModeAuto, On: false}

	d = TransitionPatch(schedule.KindOn).Apply(d)
	assert.True(t, d.On)
	assert.Equal(t, device.ModeManual, d.Mode)

	d = TransitionPatch(schedule.KindOff).Apply(d)
	assert.False(t, d.On)
	assert.Equal(t, device.ModeManual, d.Mode)
}
