// Package authority resolves which control source owns a device's state for
// an evaluation cycle: the global automatic controller, or the
// manual/schedule-directed path this engine drives.
package authority

import (
	"pondcontrol/internal/device"
	"pondcontrol/internal/schedule"
)

// Decision is the arbiter's verdict for a due transition.
type Decision int

const (
	// Skip suppresses the write for this cycle; the global automatic
	// controller owns the device.
	Skip Decision = iota
	// ApplyAsManual delivers the transition and forces the device into
	// manual mode as part of the same write.
	ApplyAsManual
)

// Arbiter gates schedule- and loop-driven writes behind the global
// auto-control setting. Manual user toggles are applied by the hosting
// application's command path and are not gated here.
type Arbiter struct{}

// NewArbiter returns an Arbiter.
func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// Resolve decides whether a due schedule transition may be dispatched.
// When the global auto mode is on, every loop-driven write is suppressed.
func (a *Arbiter) Resolve(autoMode bool) Decision {
	if autoMode {
		return Skip
	}
	return ApplyAsManual
}

// TransitionPatch builds the patch for a schedule transition. The mode is
// forced to manual in the same write so the new state is not immediately
// re-interpreted as auto-controlled. A consequence the engine preserves:
// once a schedule fires, only an external actor can re-enable auto mode for
// that device.
func TransitionPatch(kind schedule.Kind) device.StatePatch {
	return device.StatePatch{
		On:   device.BoolPtr(kind == schedule.KindOn),
		Mode: device.ModePtr(device.ModeManual),
	}
}
