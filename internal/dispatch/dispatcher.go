// Package dispatch delivers desired device state to the remote store,
// degrading to the offline queue when the link is down and to a cache revert
// when a nominally-online write fails.
package dispatch

import (
	"go.uber.org/zap"

	"pondcontrol/internal/cache"
	"pondcontrol/internal/device"
	"pondcontrol/internal/pending"
	"pondcontrol/internal/remote"
)

// Outcome is the coarse result surfaced to callers. Low-level transport
// errors stay inside the dispatcher.
type Outcome int

const (
	// Delivered: the remote store acknowledged the write.
	Delivered Outcome = iota
	// Queued: no connectivity; the command waits in the offline queue.
	Queued
	// Failed: the online write failed; the optimistic update was reverted.
	// The caller decides whether to retry; schedule-sourced dispatches are
	// simply dropped, since the next cycle re-evaluates naturally.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Dispatcher applies state patches for one pond's devices.
type Dispatcher struct {
	store  remote.Store
	conn   remote.Connectivity
	cache  *cache.DeviceCache
	queue  *pending.Queue
	pondID string
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher for one pond.
func NewDispatcher(
	store remote.Store,
	conn remote.Connectivity,
	deviceCache *cache.DeviceCache,
	queue *pending.Queue,
	pondID string,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:  store,
		conn:   conn,
		cache:  deviceCache,
		queue:  queue,
		pondID: pondID,
		logger: logger.Named("dispatch"),
	}
}

// Dispatch applies a patch to a device. The cached view is updated
// optimistically first so the hosting application observes the change
// immediately; a failed online delivery rolls that back.
func (d *Dispatcher) Dispatch(deviceID string, patch device.StatePatch) Outcome {
	if patch.IsEmpty() {
		d.logger.Debug("Empty patch, nothing to dispatch", zap.String("device_id", deviceID))
		return Delivered
	}

	d.cache.ApplyOptimistic(deviceID, patch)

	if !d.conn.IsOnline() {
		action := d.queue.Enqueue(deviceID, patch)
		d.logger.Info("Offline, queued command",
			zap.String("device_id", deviceID),
			zap.String("action_id", action.ID))
		return Queued
	}

	path := remote.DevicePath(d.pondID, deviceID)
	if err := d.store.Update(path, patch.Fields()); err != nil {
		d.cache.Revert(deviceID)
		d.logger.Warn("Remote write failed, reverted cached state",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return Failed
	}

	d.cache.Confirm(deviceID)
	d.logger.Debug("Command delivered", zap.String("device_id", deviceID))
	return Delivered
}

// DrainPending replays queued commands in creation order, removing only the
// ones the store acknowledges. Partial success is expected; failures stay
// queued for the next drain.
func (d *Dispatcher) DrainPending() (delivered, remaining int) {
	actions := d.queue.Actions()
	if len(actions) == 0 {
		return 0, 0
	}

	d.logger.Info("Draining pending actions", zap.Int("count", len(actions)))
	for _, action := range actions {
		if !d.conn.IsOnline() {
			d.logger.Warn("Connectivity lost mid-drain, stopping")
			break
		}

		path := remote.DevicePath(d.pondID, action.DeviceID)
		if err := d.store.Update(path, action.Patch.Fields()); err != nil {
			d.logger.Warn("Pending action delivery failed, keeping queued",
				zap.String("device_id", action.DeviceID),
				zap.String("action_id", action.ID),
				zap.Error(err))
			continue
		}

		// The optimistic view from enqueue time may not have survived a
		// restart; re-apply before confirming.
		d.cache.ApplyOptimistic(action.DeviceID, action.Patch)
		d.cache.Confirm(action.DeviceID)
		d.queue.Remove(action.ID)
		delivered++
	}

	remaining = d.queue.Len()
	d.logger.Info("Drain complete",
		zap.Int("delivered", delivered),
		zap.Int("remaining", remaining))
	return delivered, remaining
}
