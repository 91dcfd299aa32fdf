package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchApply(t *testing.T) {
	d := Device{ID: "pump-1", Type: TypeMotor, On: false, Mode: ModeAuto}

	patched := StatePatch{On: BoolPtr(true), Mode: ModePtr(ModeManual)}.Apply(d)
	assert.True(t, patched.On)
	assert.Equal(t, ModeManual, patched.Mode)
	assert.False(t, d.On, "Apply returns a copy")

	onlyOn := StatePatch{On: BoolPtr(true)}.Apply(d)
	assert.Equal(t, ModeAuto, onlyOn.Mode, "nil fields stay untouched")
}

func TestPatchFields(t *testing.T) {
	full := StatePatch{On: BoolPtr(false), Mode: ModePtr(ModeManual)}
	assert.Equal(t, map[string]any{"on": false, "mode": "manual"}, full.Fields())

	assert.Empty(t, StatePatch{}.Fields())
	assert.True(t, StatePatch{}.IsEmpty())
	assert.False(t, full.IsEmpty())
}

func TestValidateRejectsUnknownTypeAndMode(t *testing.T) {
	valid := Device{ID: "pump-1", Type: TypeMotor, Mode: ModeAuto}
	require.NoError(t, valid.Validate())

	missing := Device{Type: TypeMotor, Mode: ModeAuto}
	assert.Error(t, missing.Validate())

	badType := Device{ID: "x", Type: "toaster", Mode: ModeAuto}
	assert.Error(t, badType.Validate())

	badMode := Device{ID: "x", Type: TypeLight, Mode: "half"}
	assert.Error(t, badMode.Validate())
}

func TestDecodeListSkipsMalformedRecords(t *testing.T) {
	raw := json.RawMessage(`{
		"pump-1": {"id": "pump-1", "type": "motor", "name": "Main pump", "on": true, "mode": "manual"},
		"bad-1":  {"id": "bad-1", "type": "toaster", "mode": "auto"},
		"bad-2":  17
	}`)

	devices, skipped, err := DecodeList(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, devices, 1)
	assert.Equal(t, "pump-1", devices[0].ID)
}

func TestDecodeListAcceptsArray(t *testing.T) {
	raw := json.RawMessage(`[{"id": "light-1", "type": "light", "name": "Pond light", "on": false, "mode": "auto"}]`)

	devices, skipped, err := DecodeList(raw)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, devices, 1)
	assert.Equal(t, TypeLight, devices[0].Type)
}
