// Package remote abstracts the remote state store: a hierarchical,
// path-addressed namespace holding ponds, their devices, schedules, and
// settings. Client talks to the real store over a WebSocket; Mock is the
// in-memory double for tests.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no value exists at the path.
var ErrNotFound = errors.New("remote: path not found")

// ErrOffline is returned when an operation is attempted without connectivity.
var ErrOffline = errors.New("remote: not connected")

// ChangeHandler is called when the value under a watched path changes.
type ChangeHandler func(path string, value json.RawMessage)

// ConnectivityHandler is called on became-online / became-offline transitions.
type ConnectivityHandler func(online bool)

// Subscription is an active watch that can be cancelled.
type Subscription interface {
	Unsubscribe() error
}

// Store is the path-addressed remote state store.
type Store interface {
	// Get reads the value at path, or ErrNotFound.
	Get(path string) (json.RawMessage, error)
	// Set replaces the value at path.
	Set(path string, value any) error
	// Update merges fields into the object at path, leaving other fields.
	Update(path string, fields map[string]any) error
	// Subscribe watches path and everything beneath it.
	Subscribe(path string, handler ChangeHandler) (Subscription, error)
}

// Connectivity exposes the store's link state: a synchronous query plus
// transition events.
type Connectivity interface {
	IsOnline() bool
	OnConnectivityChange(handler ConnectivityHandler) Subscription
}

// Paths for the pond namespace.

// DevicesPath returns the collection path for a pond's devices.
func DevicesPath(pondID string) string {
	return fmt.Sprintf("ponds/%s/devices", pondID)
}

// DevicePath returns the path for one device.
func DevicePath(pondID, deviceID string) string {
	return fmt.Sprintf("ponds/%s/devices/%s", pondID, deviceID)
}

// SchedulesPath returns the collection path for a pond's schedules.
func SchedulesPath(pondID string) string {
	return fmt.Sprintf("ponds/%s/schedules", pondID)
}

// SchedulePath returns the path for one schedule.
func SchedulePath(pondID, scheduleID string) string {
	return fmt.Sprintf("ponds/%s/schedules/%s", pondID, scheduleID)
}

// AutoModePath returns the path of the pond's global auto-control flag.
func AutoModePath(pondID string) string {
	return fmt.Sprintf("ponds/%s/settings/autoMode", pondID)
}
