// Package pending is the offline queue: commands that could not reach the
// remote store, persisted locally and replayed when connectivity returns.
// It keeps at most one action per device; a newer command replaces the older
// one outright rather than queueing history.
package pending

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pondcontrol/internal/device"
	"pondcontrol/internal/storage"
)

// Action is one undelivered command for a device.
type Action struct {
	ID       string            `json:"id"`
	DeviceID string            `json:"deviceId"`
	Patch    device.StatePatch `json:"patch"`
	Created  time.Time         `json:"created"`
}

// Queue is a per-pond persisted action list. Enqueue coalesces per device;
// Actions returns creation order for fair drainage across devices.
type Queue struct {
	mu      sync.Mutex
	kv      storage.KV
	key     string
	logger  *zap.Logger
	actions []Action
}

// NewQueue loads the persisted queue for a pond. Unreadable or corrupt
// stored state degrades to an empty queue, never an error.
func NewQueue(kv storage.KV, pondID string, logger *zap.Logger) *Queue {
	q := &Queue{
		kv:     kv,
		key:    fmt.Sprintf("pond/%s/pending", pondID),
		logger: logger.Named("pending"),
	}
	q.load()
	return q
}

func (q *Queue) load() {
	value, ok, err := q.kv.Get(q.key)
	if err != nil {
		q.logger.Warn("Failed to read persisted queue, starting empty", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	var stored []Action
	if err := json.Unmarshal([]byte(value), &stored); err != nil {
		q.logger.Warn("Persisted queue is corrupt, starting empty", zap.Error(err))
		return
	}
	q.actions = stored
	if len(stored) > 0 {
		q.logger.Info("Loaded pending actions", zap.Int("count", len(stored)))
	}
}

func (q *Queue) persistLocked() {
	raw, err := json.Marshal(q.actions)
	if err != nil {
		q.logger.Error("Failed to encode pending queue", zap.Error(err))
		return
	}
	if err := q.kv.Set(q.key, string(raw)); err != nil {
		q.logger.Warn("Failed to persist pending queue", zap.Error(err))
	}
}

// Enqueue records an undelivered command. An existing action for the same
// device is discarded: the newest patch wins, with a fresh id and timestamp.
func (q *Queue) Enqueue(deviceID string, patch device.StatePatch) Action {
	action := Action{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Patch:    patch,
		Created:  time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, existing := range q.actions {
		if existing.DeviceID == deviceID {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			q.logger.Debug("Coalesced pending action",
				zap.String("device_id", deviceID),
				zap.String("superseded", existing.ID))
			break
		}
	}
	q.actions = append(q.actions, action)
	q.persistLocked()
	return action
}

// Actions returns a copy of the queue in creation order.
func (q *Queue) Actions() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	actions := make([]Action, len(q.actions))
	copy(actions, q.actions)
	return actions
}

// Remove deletes one action after successful delivery.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, action := range q.actions {
		if action.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			q.persistLocked()
			return
		}
	}
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}
