// Package cache holds the last-known-good snapshot of a pond's devices.
// It is written by successful dispatches and remote reads, consulted when a
// remote read fails, and carries the optimistic view the hosting application
// displays while a write is in flight.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pondcontrol/internal/device"
	"pondcontrol/internal/storage"
)

// DeviceCache mirrors one pond's devices. The current view may run ahead of
// the store while a dispatch is pending; the confirmed view only ever holds
// state the remote store acknowledged. Only the confirmed view is persisted.
type DeviceCache struct {
	mu        sync.Mutex
	kv        storage.KV
	key       string
	logger    *zap.Logger
	current   map[string]device.Device
	confirmed map[string]device.Device
}

// NewDeviceCache loads the persisted snapshot for a pond. Unreadable or
// corrupt stored state degrades to an empty cache, never an error.
func NewDeviceCache(kv storage.KV, pondID string, logger *zap.Logger) *DeviceCache {
	c := &DeviceCache{
		kv:        kv,
		key:       fmt.Sprintf("pond/%s/devices", pondID),
		logger:    logger.Named("cache"),
		current:   make(map[string]device.Device),
		confirmed: make(map[string]device.Device),
	}
	c.load()
	return c
}

func (c *DeviceCache) load() {
	value, ok, err := c.kv.Get(c.key)
	if err != nil {
		c.logger.Warn("Failed to read persisted cache, starting empty", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	var stored map[string]device.Device
	if err := json.Unmarshal([]byte(value), &stored); err != nil {
		c.logger.Warn("Persisted cache is corrupt, starting empty", zap.Error(err))
		return
	}
	for id, d := range stored {
		c.confirmed[id] = d
		c.current[id] = d
	}
	c.logger.Info("Loaded device cache", zap.Int("devices", len(stored)))
}

// persistLocked writes the confirmed snapshot. Failures are logged only;
// the in-memory cache stays authoritative for this session.
func (c *DeviceCache) persistLocked() {
	raw, err := json.Marshal(c.confirmed)
	if err != nil {
		c.logger.Error("Failed to encode device cache", zap.Error(err))
		return
	}
	if err := c.kv.Set(c.key, string(raw)); err != nil {
		c.logger.Warn("Failed to persist device cache", zap.Error(err))
	}
}

// Get returns the current view of one device.
func (c *DeviceCache) Get(id string) (device.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.current[id]
	return d, ok
}

// Snapshot returns the current view of every cached device.
func (c *DeviceCache) Snapshot() []device.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	devices := make([]device.Device, 0, len(c.current))
	for _, d := range c.current {
		devices = append(devices, d)
	}
	return devices
}

// ApplyOptimistic patches the current view ahead of remote delivery, so the
// hosting application observes the change immediately. It does not touch the
// confirmed view or persistence.
func (c *DeviceCache) ApplyOptimistic(id string, patch device.StatePatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.current[id]; ok {
		c.current[id] = patch.Apply(d)
	}
}

// Confirm promotes the current view of one device to confirmed after the
// remote store acknowledged the write, and persists.
func (c *DeviceCache) Confirm(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.current[id]
	if !ok {
		return
	}
	c.confirmed[id] = d
	c.persistLocked()
}

// Revert restores one device's current view to its last confirmed state,
// undoing an optimistic update whose delivery failed.
func (c *DeviceCache) Revert(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.confirmed[id]; ok {
		c.current[id] = d
		return
	}
	delete(c.current, id)
}

// ReplaceAll installs a fresh snapshot from a successful remote read, making
// it both current and confirmed, and persists.
func (c *DeviceCache) ReplaceAll(devices []device.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = make(map[string]device.Device, len(devices))
	c.confirmed = make(map[string]device.Device, len(devices))
	for _, d := range devices {
		c.current[d.ID] = d
		c.confirmed[d.ID] = d
	}
	c.persistLocked()
}

// Put installs or overwrites one device from a remote change notification.
func (c *DeviceCache) Put(d device.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current[d.ID] = d
	c.confirmed[d.ID] = d
	c.persistLocked()
}

// Len returns the number of cached devices.
func (c *DeviceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.current)
}
