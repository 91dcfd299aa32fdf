// Package device defines the managed actuator model shared across the core:
// the device snapshot mirrored from the remote store and the partial state
// patch the dispatcher applies to it.
package device

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of actuator a device is.
type Type string

const (
	TypeMotor   Type = "motor"
	TypeAerator Type = "aerator"
	TypeLight   Type = "light"
)

// Mode identifies which authority currently owns a device's state.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// Device is the last-known view of a managed actuator. The remote store owns
// the authoritative copy; the local cache mirrors it.
type Device struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Name string `json:"name"`
	On   bool   `json:"on"`
	Mode Mode   `json:"mode"`
}

// Validate reports whether a decoded device record is usable. Records that
// fail validation are skipped by callers, never fatal.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("device missing id")
	}
	switch d.Type {
	case TypeMotor, TypeAerator, TypeLight:
	default:
		return fmt.Errorf("device %s has unknown type %q", d.ID, d.Type)
	}
	switch d.Mode {
	case ModeManual, ModeAuto:
	default:
		return fmt.Errorf("device %s has unknown mode %q", d.ID, d.Mode)
	}
	return nil
}

// StatePatch is a partial update to a device. Nil fields are left untouched.
type StatePatch struct {
	On   *bool `json:"on,omitempty"`
	Mode *Mode `json:"mode,omitempty"`
}

// Apply returns a copy of d with the patch applied.
func (p StatePatch) Apply(d Device) Device {
	if p.On != nil {
		d.On = *p.On
	}
	if p.Mode != nil {
		d.Mode = *p.Mode
	}
	return d
}

// Fields returns the patch as a partial-update map for the remote store.
func (p StatePatch) Fields() map[string]any {
	fields := make(map[string]any, 2)
	if p.On != nil {
		fields["on"] = *p.On
	}
	if p.Mode != nil {
		fields["mode"] = string(*p.Mode)
	}
	return fields
}

// IsEmpty reports whether the patch changes nothing.
func (p StatePatch) IsEmpty() bool {
	return p.On == nil && p.Mode == nil
}

// DecodeList parses a remote device collection, returning the valid records
// and the number of malformed ones that were skipped. The store returns
// collections either as an id-keyed object or as an array.
func DecodeList(raw json.RawMessage) ([]Device, int, error) {
	records, err := collectionRecords(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("decode device list: %w", err)
	}

	devices := make([]Device, 0, len(records))
	skipped := 0
	for _, record := range records {
		var d Device
		if err := json.Unmarshal(record, &d); err != nil {
			skipped++
			continue
		}
		if err := d.Validate(); err != nil {
			skipped++
			continue
		}
		devices = append(devices, d)
	}
	return devices, skipped, nil
}

// collectionRecords flattens an id-keyed object or an array into its
// member documents.
func collectionRecords(raw json.RawMessage) ([]json.RawMessage, error) {
	var byID map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byID); err == nil {
		records := make([]json.RawMessage, 0, len(byID))
		for _, record := range byID {
			records = append(records, record)
		}
		return records, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// BoolPtr is a convenience for building patches.
func BoolPtr(v bool) *bool { return &v }

// ModePtr is a convenience for building patches.
func ModePtr(m Mode) *Mode { return &m }
