package config

import (
	"encoding/json"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"pondcontrol/internal/remote"
)

// AutoModeSource exposes the global auto-control flag. When it reports true,
// the scheduler suppresses every schedule- and loop-driven device write for
// that cycle.
type AutoModeSource interface {
	Enabled() bool
}

// StaticAutoMode is a fixed, settable flag for tests and deployments without
// a remote preference.
type StaticAutoMode struct {
	enabled atomic.Bool
}

// NewStaticAutoMode returns a source with the given initial value.
func NewStaticAutoMode(enabled bool) *StaticAutoMode {
	s := &StaticAutoMode{}
	s.enabled.Store(enabled)
	return s
}

func (s *StaticAutoMode) Enabled() bool {
	return s.enabled.Load()
}

// Set changes the flag; takes effect on the next scheduler cycle.
func (s *StaticAutoMode) Set(enabled bool) {
	s.enabled.Store(enabled)
}

// RemoteAutoMode mirrors the pond's auto-control preference from the remote
// store, tracking changes through a subscription. Until a first value is
// read it reports false, so schedules keep running rather than silently
// stalling.
type RemoteAutoMode struct {
	store   remote.Store
	path    string
	logger  *zap.Logger
	enabled atomic.Bool
	sub     remote.Subscription
}

// NewRemoteAutoMode reads the current value and subscribes to changes.
// A failed initial read is absorbed: the subscription catches up later.
func NewRemoteAutoMode(store remote.Store, pondID string, logger *zap.Logger) (*RemoteAutoMode, error) {
	r := &RemoteAutoMode{
		store:  store,
		path:   remote.AutoModePath(pondID),
		logger: logger.Named("automode"),
	}

	if raw, err := store.Get(r.path); err == nil {
		r.apply(raw)
	} else if !errors.Is(err, remote.ErrNotFound) {
		r.logger.Warn("Initial auto-mode read failed, assuming disabled", zap.Error(err))
	}

	sub, err := store.Subscribe(r.path, func(path string, value json.RawMessage) {
		r.apply(value)
	})
	if err != nil {
		return nil, err
	}
	r.sub = sub
	return r, nil
}

func (r *RemoteAutoMode) apply(raw json.RawMessage) {
	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err != nil {
		r.logger.Warn("Malformed auto-mode value, keeping previous", zap.Error(err))
		return
	}
	previous := r.enabled.Swap(enabled)
	if previous != enabled {
		r.logger.Info("Auto mode changed", zap.Bool("enabled", enabled))
	}
}

func (r *RemoteAutoMode) Enabled() bool {
	return r.enabled.Load()
}

// Close cancels the change subscription.
func (r *RemoteAutoMode) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}
