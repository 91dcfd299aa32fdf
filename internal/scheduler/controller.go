// Package scheduler runs the periodic evaluation loop: fetch state, find due
// schedule transitions, arbitrate against the global auto mode, dispatch, and
// keep the execution log bounded.
package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pondcontrol/internal/authority"
	"pondcontrol/internal/cache"
	"pondcontrol/internal/clock"
	"pondcontrol/internal/config"
	"pondcontrol/internal/device"
	"pondcontrol/internal/dispatch"
	"pondcontrol/internal/execlog"
	"pondcontrol/internal/remote"
	"pondcontrol/internal/schedule"
)

// DefaultInterval is the evaluation period when the configuration does not
// set one. It keeps two evaluations inside every firing window.
const DefaultInterval = 30 * time.Second

// Controller owns one pond's control session.
type Controller struct {
	store      remote.Store
	conn       remote.Connectivity
	cache      *cache.DeviceCache
	dispatcher *dispatch.Dispatcher
	evaluator  *schedule.Evaluator
	execLog    *execlog.Log
	arbiter    *authority.Arbiter
	autoMode   config.AutoModeSource
	clk        clock.Clock
	interval   time.Duration
	pondID     string
	logger     *zap.Logger

	running    atomic.Bool
	cycleBusy  atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	connSub   remote.Subscription
	deviceSub remote.Subscription

	// mu guards lastSchedules and purgeTimer, which the rearming purge
	// callback writes from its own goroutine.
	mu            sync.Mutex
	purgeTimer    clock.Timer
	lastSchedules []schedule.Schedule
}

// NewController wires a controller for one pond. interval <= 0 selects
// DefaultInterval.
func NewController(
	store remote.Store,
	conn remote.Connectivity,
	deviceCache *cache.DeviceCache,
	dispatcher *dispatch.Dispatcher,
	autoMode config.AutoModeSource,
	clk clock.Clock,
	interval time.Duration,
	pondID string,
	logger *zap.Logger,
) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Controller{
		store:      store,
		conn:       conn,
		cache:      deviceCache,
		dispatcher: dispatcher,
		evaluator:  schedule.NewEvaluator(),
		execLog:    execlog.NewLog(),
		arbiter:    authority.NewArbiter(),
		autoMode:   autoMode,
		clk:        clk,
		interval:   interval,
		pondID:     pondID,
		logger:     logger.Named("scheduler"),
	}
}

// Start launches the evaluation loop, the midnight purge timer, and the
// connectivity listener that drains the offline queue on reconnect.
func (c *Controller) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("controller already running")
	}
	c.stopCh = make(chan struct{})

	c.connSub = c.conn.OnConnectivityChange(func(online bool) {
		if !online || !c.running.Load() {
			return
		}
		delivered, remaining := c.dispatcher.DrainPending()
		if delivered > 0 || remaining > 0 {
			c.logger.Info("Drained offline queue after reconnect",
				zap.Int("delivered", delivered),
				zap.Int("remaining", remaining))
		}
	})

	if c.conn.IsOnline() {
		delivered, remaining := c.dispatcher.DrainPending()
		if delivered > 0 || remaining > 0 {
			c.logger.Info("Drained offline queue at startup",
				zap.Int("delivered", delivered),
				zap.Int("remaining", remaining))
		}
	}

	// Pushed device changes land in the cache between cycles, so the
	// hosting application's view does not lag a full interval behind.
	sub, err := c.store.Subscribe(remote.DevicesPath(c.pondID), c.onDeviceEvent)
	if err != nil {
		c.logger.Warn("Device change subscription unavailable", zap.Error(err))
	} else {
		c.deviceSub = sub
	}

	c.scheduleMidnightPurge()

	// First evaluation happens before Start returns; the loop then owns
	// the cadence.
	c.RunCycle(c.clk.Now())

	c.wg.Add(1)
	go c.run()

	c.logger.Info("Scheduler started",
		zap.String("pond", c.pondID),
		zap.Duration("interval", c.interval))
	return nil
}

// Stop halts the loop. An in-flight cycle finishes; it is not retried.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stopCh)
	c.mu.Lock()
	if c.purgeTimer != nil {
		c.purgeTimer.Stop()
	}
	c.mu.Unlock()
	if c.connSub != nil {
		c.connSub.Unsubscribe()
	}
	if c.deviceSub != nil {
		c.deviceSub.Unsubscribe()
	}
	c.wg.Wait()
	c.logger.Info("Scheduler stopped")
}

func (c *Controller) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-c.clk.After(c.interval):
			c.RunCycle(now)
		}
	}
}

// RunCycle executes one evaluation pass at the given instant. Overlapping
// calls are collapsed: if a cycle is still in flight the new one is skipped
// rather than queued, because the next tick re-evaluates from scratch.
func (c *Controller) RunCycle(now time.Time) {
	if !c.cycleBusy.CompareAndSwap(false, true) {
		c.logger.Debug("Previous cycle still running, skipping tick")
		return
	}
	defer c.cycleBusy.Store(false)

	if removed := c.execLog.PurgeExcept(schedule.DateOf(now)); removed > 0 {
		c.logger.Debug("Purged stale execution entries", zap.Int("removed", removed))
	}

	if c.arbiter.Resolve(c.autoMode.Enabled()) == authority.Skip {
		// The automatic controller owns the devices; dispatch nothing
		// this cycle.
		return
	}

	schedules := c.fetchSchedules()
	devices := c.fetchDevices()

	for _, tr := range c.evaluator.Due(now, schedules) {
		if c.execLog.HasFired(tr.Schedule.ID, tr.Kind, tr.Date) {
			continue
		}
		c.fire(tr, devices, now)
	}
}

// fire dispatches one due transition to every device of the schedule's type.
func (c *Controller) fire(tr schedule.Transition, devices []device.Device, now time.Time) {
	patch := authority.TransitionPatch(tr.Kind)

	targets := 0
	applied := 0
	for _, dev := range devices {
		if dev.Type != tr.Schedule.DeviceType {
			continue
		}
		targets++
		outcome := c.dispatcher.Dispatch(dev.ID, patch)
		if outcome == dispatch.Failed {
			c.logger.Warn("Transition delivery failed",
				zap.String("schedule", tr.Schedule.ID),
				zap.String("device", dev.ID),
				zap.String("kind", string(tr.Kind)))
			continue
		}
		applied++
	}

	// A failed delivery leaves the entry unrecorded so a later tick inside
	// the window can retry. Queued counts as applied: the offline queue now
	// owns delivery.
	if targets > 0 && applied == 0 {
		return
	}

	c.execLog.RecordFired(tr.Schedule.ID, tr.Kind, tr.Date, tr.Minute)
	c.logger.Info("Schedule transition executed",
		zap.String("schedule", tr.Schedule.ID),
		zap.String("kind", string(tr.Kind)),
		zap.String("deviceType", string(tr.Schedule.DeviceType)),
		zap.Int("devices", applied))

	if tr.Kind == schedule.KindOff && tr.Schedule.Repeat == schedule.RepeatOnce {
		c.retireOnceSchedule(tr.Schedule, now)
	}
}

// retireOnceSchedule disables a completed one-shot schedule remotely and
// stamps its execution time. Best effort: a failure here never blocks the
// cycle, and the execution log already prevents a same-day refire.
func (c *Controller) retireOnceSchedule(s schedule.Schedule, now time.Time) {
	err := c.store.Update(remote.SchedulePath(c.pondID, s.ID), map[string]any{
		"enabled":      false,
		"lastExecuted": now.Unix(),
	})
	if err != nil {
		c.logger.Warn("Could not retire one-shot schedule",
			zap.String("schedule", s.ID),
			zap.Error(err))
		return
	}
	c.logger.Info("Retired one-shot schedule", zap.String("schedule", s.ID))
}

// fetchSchedules reads the schedule collection, falling back to the last
// successful read when the remote is unreachable.
func (c *Controller) fetchSchedules() []schedule.Schedule {
	raw, err := c.store.Get(remote.SchedulesPath(c.pondID))
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			c.setLastSchedules(nil)
			return nil
		}
		c.logger.Debug("Schedule fetch failed, using last known", zap.Error(err))
		return c.lastKnownSchedules()
	}

	schedules, skipped, err := schedule.DecodeList(raw)
	if err != nil {
		c.logger.Warn("Schedule collection undecodable, using last known", zap.Error(err))
		return c.lastKnownSchedules()
	}
	if skipped > 0 {
		c.logger.Warn("Skipped malformed schedule records", zap.Int("skipped", skipped))
	}
	c.setLastSchedules(schedules)
	return schedules
}

// fetchDevices refreshes the local device cache from the remote collection.
// Offline or on error, the cached view serves the cycle.
func (c *Controller) fetchDevices() []device.Device {
	raw, err := c.store.Get(remote.DevicesPath(c.pondID))
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			c.cache.ReplaceAll(nil)
			return nil
		}
		c.logger.Debug("Device fetch failed, using cache", zap.Error(err))
		return c.cache.Snapshot()
	}

	devices, skipped, err := device.DecodeList(raw)
	if err != nil {
		c.logger.Warn("Device collection undecodable, using cache", zap.Error(err))
		return c.cache.Snapshot()
	}
	if skipped > 0 {
		c.logger.Warn("Skipped malformed device records", zap.Int("skipped", skipped))
	}
	c.cache.ReplaceAll(devices)
	return devices
}

func (c *Controller) setLastSchedules(schedules []schedule.Schedule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSchedules = schedules
}

func (c *Controller) lastKnownSchedules() []schedule.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schedule.Schedule(nil), c.lastSchedules...)
}

// NextTransition reports the nearest upcoming transition from the last known
// schedules, for display by the hosting application.
func (c *Controller) NextTransition() (schedule.Upcoming, bool) {
	return c.evaluator.Next(c.clk.Now(), c.lastKnownSchedules())
}

// Devices returns the current cached device view, optimistic updates
// included.
func (c *Controller) Devices() []device.Device {
	return c.cache.Snapshot()
}

// onDeviceEvent applies a pushed remote change to the cache. The store
// notifies with the path of the changed node: the collection itself or one
// device beneath it.
func (c *Controller) onDeviceEvent(path string, value json.RawMessage) {
	if path == remote.DevicesPath(c.pondID) {
		devices, skipped, err := device.DecodeList(value)
		if err != nil {
			c.logger.Warn("Undecodable device collection event", zap.Error(err))
			return
		}
		if skipped > 0 {
			c.logger.Warn("Skipped malformed device records in event", zap.Int("skipped", skipped))
		}
		c.cache.ReplaceAll(devices)
		return
	}

	var d device.Device
	if err := json.Unmarshal(value, &d); err != nil {
		c.logger.Warn("Undecodable device event", zap.String("path", path), zap.Error(err))
		return
	}
	if err := d.Validate(); err != nil {
		c.logger.Warn("Invalid device in event", zap.String("path", path), zap.Error(err))
		return
	}
	c.cache.Put(d)
}

// scheduleMidnightPurge arms a timer for the next local midnight. Entries
// are keyed by date, so this is memory hygiene rather than correctness; the
// purge also re-arms itself for the following day.
func (c *Controller) scheduleMidnightPurge() {
	now := c.clk.Now()
	next := schedule.DateOf(now).AddDate(0, 0, 1)
	timer := c.clk.AfterFunc(next.Sub(now), func() {
		if !c.running.Load() {
			return
		}
		today := schedule.DateOf(c.clk.Now())
		removed := c.execLog.PurgeExcept(today)
		c.logger.Info("Midnight execution log purge", zap.Int("removed", removed))
		c.scheduleMidnightPurge()
	})

	c.mu.Lock()
	c.purgeTimer = timer
	c.mu.Unlock()
}
