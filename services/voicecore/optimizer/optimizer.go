// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimizer

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/observability"
	"github.com/AleutianAI/HearthCore/services/voicecore/resmon"
)

// PressureSource is the monitor surface the optimizer consumes.
type PressureSource interface {
	IsUnderPressure() bool
	Recommendations() []resmon.Recommendation
}

// Config holds optimizer tunables.
type Config struct {
	// CacheCapacityBytes bounds total resident model size.
	CacheCapacityBytes int64

	// MaxLevel is the device's degradation ceiling. Must stay strictly
	// below TheoreticalMaxLevel so the safety floor is guaranteed.
	MaxLevel int

	// CycleInterval is the cadence of the optimization cycle (auto
	// recovery, expired-action sweep). Matches the monitor's sampling
	// interval by convention.
	CycleInterval time.Duration

	// Queues is the processing queue set.
	Queues []QueueConfig

	// AutoRevertAfter schedules automatic revert for reversible
	// strategy actions. Zero disables auto revert.
	AutoRevertAfter time.Duration
}

// DefaultConfig returns optimizer defaults for the target SoC.
func DefaultConfig() Config {
	return Config{
		CacheCapacityBytes: 2048 * 1024 * 1024,
		MaxLevel:           3,
		CycleInterval:      time.Second,
		Queues:             DefaultQueues(),
		AutoRevertAfter:    30 * time.Second,
	}
}

// Optimizer owns the voice core's priority queues, model cache, and
// graceful-degradation ladder.
//
// # Description
//
// External components interact only through the exported contract;
// queue, cache, and degradation state are never mutated directly. The
// optimizer reacts to resource-alert and optimization-trigger events
// and runs a periodic cycle that sweeps expired actions and steps
// degradation back down when the monitor reports no pressure.
//
// # Thread Safety
//
// Safe for concurrent use.
type Optimizer struct {
	cfg     Config
	monitor PressureSource
	bus     *events.Bus
	logger  *slog.Logger
	metrics *observability.Metrics
	sleeper func(time.Duration)

	mu           sync.Mutex
	queues       map[string]*processingQueue
	cache        *modelCache
	level        int
	levelActions []string // action ids per degradation step, stack order
	actions      map[string]*Action
	paused       map[string]bool

	requestsQueued    int64
	requestsProcessed int64
	requestsEvicted   int64
	requestsExpired   int64

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	subIDs  []string
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithMonitor attaches the pressure source consulted by the cycle.
func WithMonitor(m PressureSource) Option {
	return func(o *Optimizer) {
		o.monitor = m
	}
}

// WithBus attaches the event bus for signaling and alert subscription.
func WithBus(bus *events.Bus) Option {
	return func(o *Optimizer) {
		o.bus = bus
	}
}

// WithLogger sets the optimizer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) {
		o.logger = logger
	}
}

// WithMetrics attaches prometheus metrics (may be nil).
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Optimizer) {
		o.metrics = metrics
	}
}

// WithSleeper overrides the model-load latency sleep. Tests pass a
// no-op to avoid real delays.
func WithSleeper(fn func(time.Duration)) Option {
	return func(o *Optimizer) {
		o.sleeper = fn
	}
}

// New creates a performance optimizer.
//
// Outputs:
//
//	*Optimizer - The configured optimizer.
//	error - Non-nil if MaxLevel is outside 0..TheoreticalMaxLevel-1.
func New(cfg Config, opts ...Option) (*Optimizer, error) {
	if cfg.MaxLevel < 0 || cfg.MaxLevel >= TheoreticalMaxLevel {
		return nil, fmt.Errorf("%w: max level %d must be in 0..%d",
			ErrInvalidLevel, cfg.MaxLevel, TheoreticalMaxLevel-1)
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Second
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = DefaultQueues()
	}

	o := &Optimizer{
		cfg:     cfg,
		logger:  slog.Default(),
		sleeper: time.Sleep,
		queues:  make(map[string]*processingQueue),
		cache:   newModelCache(cfg.CacheCapacityBytes),
		actions: make(map[string]*Action),
		paused:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, qc := range cfg.Queues {
		o.queues[qc.ID] = newProcessingQueue(qc)
	}
	o.logger = o.logger.With(slog.String("subsystem", "optimizer"))
	return o, nil
}

// Start subscribes to monitor signals and begins the optimization cycle.
func (o *Optimizer) Start() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	if o.bus != nil {
		o.subIDs = append(o.subIDs,
			o.bus.Subscribe(events.TypeResourceAlert, o.handleResourceAlert,
				events.WithSubscriberPriority(100)),
			o.bus.Subscribe(events.TypeOptimizationTrigger, o.handleOptimizationTrigger,
				events.WithSubscriberPriority(100)),
		)
	}

	o.wg.Add(1)
	go o.run()

	o.logger.Info("optimizer started",
		slog.Int("max_level", o.cfg.MaxLevel),
		slog.Int64("cache_capacity_bytes", o.cfg.CacheCapacityBytes),
	)
	return nil
}

// Stop halts the cycle, reverts all active optimizations, and resets
// degradation to level 0. Idempotent.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()

	if o.bus != nil {
		for _, id := range o.subIDs {
			o.bus.Unsubscribe(id)
		}
		o.subIDs = nil
	}

	o.mu.Lock()
	for id, action := range o.actions {
		if action.revert != nil {
			action.revert()
		}
		delete(o.actions, id)
	}
	o.levelActions = nil
	o.level = 0
	o.cache.setFraction(1)
	o.paused = make(map[string]bool)
	for _, q := range o.queues {
		q.limiter = nil
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.DegradationLevel.Set(0)
	}
	o.logger.Info("optimizer stopped, optimizations reverted")
}

// run is the periodic optimization cycle loop.
func (o *Optimizer) run() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.Cycle()
		}
	}
}

// ----------------------------------------------------------------------------
// Queues
// ----------------------------------------------------------------------------

// QueueRequest inserts a request into its type's queue.
//
// # Description
//
// The target queue is "<type>-queue". At capacity, the oldest
// low-priority entry is evicted (else the oldest overall); the eviction
// is reported via a queue-overflow event. The queue length never
// exceeds its configured maximum.
//
// # Outputs
//
//	string - The assigned request id.
//	error - ErrUnknownQueue for unrecognized request types.
func (o *Optimizer) QueueRequest(req Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	queueID := req.Type + "-queue"

	o.mu.Lock()
	q, ok := o.queues[queueID]
	if !ok {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, queueID)
	}

	evicted := q.insert(&req)
	o.requestsQueued++
	if evicted != nil {
		o.requestsEvicted++
	}
	depth := len(q.requests)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.QueueDepth.WithLabelValues(queueID).Set(float64(depth))
		if evicted != nil {
			o.metrics.QueueEvictionsTotal.WithLabelValues(queueID).Inc()
		}
	}
	if evicted != nil {
		o.publish(events.Event{
			Type:     events.TypeQueueOverflow,
			Source:   "optimizer",
			Priority: events.PriorityMedium,
			UserID:   evicted.UserID,
			Payload: map[string]any{
				"queue":            queueID,
				"evicted_request":  evicted.ID,
				"evicted_priority": evicted.Priority.String(),
			},
		})
	}
	return req.ID, nil
}

// ProcessNextRequest dequeues the highest-priority request from a queue.
//
// # Outputs
//
//	*Request - The next request, or nil if the queue is empty.
//	error - ErrUnknownQueue, or ErrThrottled while a queue-throttle
//	        action limits the dequeue rate.
func (o *Optimizer) ProcessNextRequest(queueID string) (*Request, error) {
	o.mu.Lock()
	q, ok := o.queues[queueID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueID)
	}
	if q.limiter != nil && !q.limiter.Allow() {
		o.mu.Unlock()
		return nil, ErrThrottled
	}

	req, expired := q.dequeue(time.Now())
	o.requestsExpired += int64(expired)
	if req != nil {
		o.requestsProcessed++
	}
	depth := len(q.requests)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.QueueDepth.WithLabelValues(queueID).Set(float64(depth))
	}
	return req, nil
}

// Queues returns a snapshot of all queue stats, sorted by id.
func (o *Optimizer) Queues() []QueueStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]QueueStats, 0, len(o.queues))
	for _, q := range o.queues {
		out = append(out, q.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ----------------------------------------------------------------------------
// Model cache
// ----------------------------------------------------------------------------

// LoadOption configures a model load.
type LoadOption func(*CacheEntry)

// WithModelPriority sets the cache priority (default medium). Lower
// priority models are evicted first.
func WithModelPriority(p events.Priority) LoadOption {
	return func(e *CacheEntry) {
		e.Priority = p
	}
}

// LoadModel loads a model into the cache, or bumps it on a hit.
//
// # Description
//
// A resident model's LastAccessed/AccessCount are updated without
// re-loading. A new model that would exceed the effective capacity
// first evicts entries by (priority ascending, then least recently
// used), emitting a model-evicted event per victim. Load latency is
// simulated proportional to size with a safety cap.
//
// # Outputs
//
//	error - ErrModelTooLarge if the model cannot fit even in an empty
//	        cache.
func (o *Optimizer) LoadModel(modelID, modelType string, sizeBytes int64, opts ...LoadOption) error {
	now := time.Now()

	o.mu.Lock()
	if _, hit := o.cache.get(modelID, now); hit {
		o.mu.Unlock()
		if o.metrics != nil {
			o.metrics.CacheHitsTotal.Inc()
		}
		return nil
	}

	entry := &CacheEntry{
		ModelID:      modelID,
		ModelType:    modelType,
		SizeBytes:    sizeBytes,
		LastAccessed: now,
		AccessCount:  1,
		IsLoaded:     true,
		Priority:     defaultModelPriority,
	}
	for _, opt := range opts {
		opt(entry)
	}

	latency := loadLatency(sizeBytes)
	entry.LoadTimeMs = latency.Milliseconds()

	evicted, err := o.cache.insert(entry)
	resident := o.cache.residentBytes
	o.mu.Unlock()

	if err != nil {
		return fmt.Errorf("load model %s: %w", modelID, err)
	}

	if o.metrics != nil {
		o.metrics.CacheMissesTotal.Inc()
		o.metrics.CacheResidentBytes.Set(float64(resident))
		for range evicted {
			o.metrics.CacheEvictionsTotal.Inc()
		}
	}
	o.publishEvictions(evicted)

	if o.sleeper != nil && latency > 0 {
		o.sleeper(latency)
	}

	o.logger.Debug("model loaded",
		slog.String("model_id", modelID),
		slog.String("model_type", modelType),
		slog.Int64("size_bytes", sizeBytes),
		slog.Int("evicted", len(evicted)),
	)
	return nil
}

// UnloadModel removes a model from the cache.
//
// # Outputs
//
//	bool - True if the model was resident.
func (o *Optimizer) UnloadModel(modelID string) bool {
	o.mu.Lock()
	_, ok := o.cache.remove(modelID)
	resident := o.cache.residentBytes
	o.mu.Unlock()

	if ok && o.metrics != nil {
		o.metrics.CacheResidentBytes.Set(float64(resident))
	}
	return ok
}

// CacheStats returns a snapshot of cache counters.
func (o *Optimizer) CacheStats() CacheStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.stats()
}

// publishEvictions emits one model-evicted event per victim.
func (o *Optimizer) publishEvictions(evicted []*CacheEntry) {
	for _, victim := range evicted {
		o.publish(events.Event{
			Type:     events.TypeModelEvicted,
			Source:   "optimizer",
			Priority: events.PriorityMedium,
			Payload: map[string]any{
				"model_id":   victim.ModelID,
				"model_type": victim.ModelType,
				"size_bytes": victim.SizeBytes,
				"priority":   victim.Priority.String(),
			},
		})
	}
}

// ----------------------------------------------------------------------------
// Graceful degradation
// ----------------------------------------------------------------------------

// DegradationLevel returns the current ladder level.
func (o *Optimizer) DegradationLevel() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// CurrentSettings returns the active level's quality settings.
func (o *Optimizer) CurrentSettings() DegradationSetting {
	o.mu.Lock()
	defer o.mu.Unlock()
	return degradationLadder[o.level]
}

// MaxLevel returns the configured degradation ceiling.
func (o *Optimizer) MaxLevel() int {
	return o.cfg.MaxLevel
}

// ApplyGracefulDegradation moves the ladder to the given level.
//
// # Description
//
// Levels outside 0..MaxLevel fail with ErrInvalidLevel; out-of-range
// values are never clamped. Raising the level applies one reversible
// quality-reduction action per step and enforces the new level's
// cache-size fraction via eviction; lowering the level reverts the
// corresponding actions and restores settings. SafetyLevel at any
// reachable level is maintained or reduced, never minimal.
func (o *Optimizer) ApplyGracefulDegradation(level int) error {
	if level < 0 || level > o.cfg.MaxLevel {
		return fmt.Errorf("%w: %d outside 0..%d", ErrInvalidLevel, level, o.cfg.MaxLevel)
	}

	o.mu.Lock()
	from := o.level
	if level == from {
		o.mu.Unlock()
		return nil
	}

	var emitted []events.Event
	var evicted []*CacheEntry

	if level > from {
		for step := from + 1; step <= level; step++ {
			action := &Action{
				ID:         uuid.NewString(),
				Type:       ActionReduceQuality,
				Target:     "pipeline",
				AppliedAt:  time.Now(),
				Reversible: true,
				Parameters: map[string]any{
					"level":            step,
					"audio_quality":    degradationLadder[step].AudioQuality,
					"speed_multiplier": degradationLadder[step].ProcessingSpeedMultiplier,
					"model_complexity": degradationLadder[step].ModelComplexity,
					"cache_fraction":   degradationLadder[step].CacheSizeFraction,
				},
			}
			step := step
			action.revert = func() {
				o.lowerToLocked(step - 1)
			}
			o.actions[action.ID] = action
			o.levelActions = append(o.levelActions, action.ID)
			emitted = append(emitted, events.Event{
				Type:     events.TypeOptimizationApplied,
				Source:   "optimizer",
				Priority: events.PriorityMedium,
				Payload: map[string]any{
					"action_id": action.ID,
					"type":      string(action.Type),
					"level":     step,
				},
			})
		}
		evicted = o.cache.setFraction(degradationLadder[level].CacheSizeFraction)
		o.level = level
	} else {
		o.lowerToLocked(level)
	}

	settings := degradationLadder[o.level]
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.DegradationLevel.Set(float64(level))
		if level > from {
			o.metrics.OptimizationActionsTotal.
				WithLabelValues(string(ActionReduceQuality)).Add(float64(level - from))
		}
		for range evicted {
			o.metrics.CacheEvictionsTotal.Inc()
		}
	}

	for _, ev := range emitted {
		o.publish(ev)
	}
	o.publishEvictions(evicted)
	o.publish(events.Event{
		Type:     events.TypeDegradationChanged,
		Source:   "optimizer",
		Priority: events.PriorityHigh,
		Payload: map[string]any{
			"from":          from,
			"to":            level,
			"audio_quality": settings.AudioQuality,
			"safety_level":  string(settings.SafetyLevel),
		},
	})

	o.logger.Info("degradation level changed",
		slog.Int("from", from),
		slog.Int("to", level),
		slog.String("audio_quality", settings.AudioQuality),
	)
	return nil
}

// lowerToLocked drops the degradation level to target, removing the
// step actions above it and relaxing the cache bound. Caller holds mu.
func (o *Optimizer) lowerToLocked(target int) {
	if target < 0 || target >= o.level {
		return
	}
	for o.level > target {
		if n := len(o.levelActions); n > 0 {
			delete(o.actions, o.levelActions[n-1])
			o.levelActions = o.levelActions[:n-1]
		}
		o.level--
	}
	o.cache.setFraction(degradationLadder[o.level].CacheSizeFraction)
}

// ----------------------------------------------------------------------------
// Strategies and actions
// ----------------------------------------------------------------------------

// ApplyStrategy applies a targeted optimization strategy.
//
// # Inputs
//
//   - strategyID: "reduce_quality", "pause_component",
//     "restart_component", "clear_cache", or "queue_throttle".
//   - params: Strategy parameters ("component", "queue", "rate",
//     "levels"). Nil is allowed.
//
// # Outputs
//
//   - *Action: The applied action; nil when the strategy was a no-op
//     (e.g. reduce_quality already at the ceiling).
//   - error - ErrUnknownStrategy for unrecognized ids.
func (o *Optimizer) ApplyStrategy(strategyID string, params map[string]any) (*Action, error) {
	switch ActionType(strategyID) {
	case ActionReduceQuality:
		return o.strategyReduceQuality(params)
	case ActionPauseComponent:
		return o.strategyPauseComponent(params)
	case ActionRestartComponent:
		return o.strategyRestartComponent(params)
	case ActionClearCache:
		return o.strategyClearCache()
	case ActionQueueThrottle:
		return o.strategyQueueThrottle(params)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyID)
	}
}

// strategyReduceQuality steps the degradation ladder up.
func (o *Optimizer) strategyReduceQuality(params map[string]any) (*Action, error) {
	steps := intParam(params, "levels", 1)

	o.mu.Lock()
	target := o.level + steps
	if target > o.cfg.MaxLevel {
		target = o.cfg.MaxLevel
	}
	current := o.level
	o.mu.Unlock()

	if target == current {
		return nil, nil
	}
	if err := o.ApplyGracefulDegradation(target); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if n := len(o.levelActions); n > 0 {
		if action, ok := o.actions[o.levelActions[n-1]]; ok {
			return action, nil
		}
	}
	return nil, nil
}

// strategyPauseComponent marks a component paused until reverted.
func (o *Optimizer) strategyPauseComponent(params map[string]any) (*Action, error) {
	component := stringParam(params, "component", "")
	if component == "" {
		return nil, fmt.Errorf("%w: pause_component requires a component", ErrUnknownStrategy)
	}

	o.mu.Lock()
	o.paused[component] = true
	action := o.recordActionLocked(ActionPauseComponent, component, params, true, func() {
		delete(o.paused, component)
	})
	o.mu.Unlock()

	o.announceAction(action)
	return action, nil
}

// strategyRestartComponent requests a component restart. Irreversible.
func (o *Optimizer) strategyRestartComponent(params map[string]any) (*Action, error) {
	component := stringParam(params, "component", "")
	if component == "" {
		return nil, fmt.Errorf("%w: restart_component requires a component", ErrUnknownStrategy)
	}

	o.mu.Lock()
	delete(o.paused, component)
	action := o.recordActionLocked(ActionRestartComponent, component, params, false, nil)
	o.mu.Unlock()

	o.announceAction(action)
	return action, nil
}

// strategyClearCache evicts every cached model. Irreversible.
func (o *Optimizer) strategyClearCache() (*Action, error) {
	o.mu.Lock()
	evicted := o.cache.clear()
	resident := o.cache.residentBytes
	action := o.recordActionLocked(ActionClearCache, "model-cache", nil, false, nil)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.CacheResidentBytes.Set(float64(resident))
		for range evicted {
			o.metrics.CacheEvictionsTotal.Inc()
		}
	}
	o.publishEvictions(evicted)
	o.announceAction(action)
	return action, nil
}

// strategyQueueThrottle rate-limits dequeueing on one or all queues.
func (o *Optimizer) strategyQueueThrottle(params map[string]any) (*Action, error) {
	queueID := stringParam(params, "queue", "")

	o.mu.Lock()
	var targets []*processingQueue
	if queueID != "" {
		q, ok := o.queues[queueID]
		if !ok {
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueID)
		}
		targets = append(targets, q)
	} else {
		for _, q := range o.queues {
			targets = append(targets, q)
		}
	}

	for _, q := range targets {
		limit := floatParam(params, "rate", 0)
		if limit <= 0 {
			limit = q.config.ProcessingRateHint / 2
		}
		if limit <= 0 {
			limit = 2
		}
		q.limiter = rate.NewLimiter(rate.Limit(limit), 1)
	}

	target := queueID
	if target == "" {
		target = "all-queues"
	}
	action := o.recordActionLocked(ActionQueueThrottle, target, params, true, func() {
		for _, q := range targets {
			q.limiter = nil
		}
	})
	o.mu.Unlock()

	o.announceAction(action)
	return action, nil
}

// recordActionLocked creates, schedules, and indexes an action.
// Caller holds mu.
func (o *Optimizer) recordActionLocked(t ActionType, target string, params map[string]any, reversible bool, revert func()) *Action {
	action := &Action{
		ID:         uuid.NewString(),
		Type:       t,
		Target:     target,
		Parameters: params,
		AppliedAt:  time.Now(),
		Reversible: reversible,
		revert:     revert,
	}
	if reversible && o.cfg.AutoRevertAfter > 0 {
		action.AutoRevertAt = action.AppliedAt.Add(o.cfg.AutoRevertAfter)
	}
	o.actions[action.ID] = action
	return action
}

// announceAction publishes and counts an applied action.
func (o *Optimizer) announceAction(action *Action) {
	if action == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.OptimizationActionsTotal.WithLabelValues(string(action.Type)).Inc()
	}
	o.publish(events.Event{
		Type:     events.TypeOptimizationApplied,
		Source:   "optimizer",
		Priority: events.PriorityMedium,
		Payload: map[string]any{
			"action_id": action.ID,
			"type":      string(action.Type),
			"target":    action.Target,
		},
	})
	o.logger.Info("optimization applied",
		slog.String("action_id", action.ID),
		slog.String("type", string(action.Type)),
		slog.String("target", action.Target),
	)
}

// RevertOptimization undoes a previously applied action.
//
// # Outputs
//
//	error - ErrActionNotFound or ErrNotReversible.
func (o *Optimizer) RevertOptimization(actionID string) error {
	o.mu.Lock()
	action, ok := o.actions[actionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	if !action.Reversible {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReversible, actionID)
	}
	if action.revert != nil {
		action.revert()
	}
	delete(o.actions, actionID)
	level := o.level
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.DegradationLevel.Set(float64(level))
	}
	o.publish(events.Event{
		Type:     events.TypeOptimizationReverted,
		Source:   "optimizer",
		Priority: events.PriorityMedium,
		Payload: map[string]any{
			"action_id": actionID,
			"type":      string(action.Type),
			"target":    action.Target,
		},
	})
	o.logger.Info("optimization reverted",
		slog.String("action_id", actionID),
		slog.String("type", string(action.Type)),
	)
	return nil
}

// ActiveActions returns a snapshot of applied actions.
func (o *Optimizer) ActiveActions() []Action {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Action, 0, len(o.actions))
	for _, a := range o.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	return out
}

// IsComponentPaused reports whether a pause_component action targets
// the given component.
func (o *Optimizer) IsComponentPaused(component string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused[component]
}

// ----------------------------------------------------------------------------
// Optimization cycle and monitor reaction
// ----------------------------------------------------------------------------

// Cycle performs one optimization cycle: sweep expired actions, then
// step degradation down one level if the monitor reports no pressure.
//
// Exported so tests can drive cycles deterministically.
func (o *Optimizer) Cycle() {
	now := time.Now()

	o.mu.Lock()
	var expired []string
	for id, action := range o.actions {
		if action.Reversible && !action.AutoRevertAt.IsZero() && now.After(action.AutoRevertAt) {
			expired = append(expired, id)
		}
	}
	o.mu.Unlock()

	for _, id := range expired {
		if err := o.RevertOptimization(id); err != nil {
			o.logger.Warn("auto-revert failed",
				slog.String("action_id", id),
				slog.Any("error", err),
			)
		}
	}

	if o.monitor == nil || o.monitor.IsUnderPressure() {
		return
	}

	o.mu.Lock()
	level := o.level
	o.mu.Unlock()
	if level > 0 {
		if err := o.ApplyGracefulDegradation(level - 1); err != nil {
			o.logger.Warn("auto-recovery failed", slog.Any("error", err))
		}
	}
}

// handleResourceAlert raises degradation in response to monitor alerts.
func (o *Optimizer) handleResourceAlert(ev events.Event) {
	level, _ := ev.Payload["level"].(string)

	steps := 1
	if level == "critical" {
		steps = 2
	}

	o.mu.Lock()
	target := o.level + steps
	if target > o.cfg.MaxLevel {
		target = o.cfg.MaxLevel
	}
	current := o.level
	o.mu.Unlock()

	if target == current {
		return
	}
	if err := o.ApplyGracefulDegradation(target); err != nil {
		o.logger.Warn("alert-driven degradation failed", slog.Any("error", err))
	}
}

// handleOptimizationTrigger applies the strategy a trigger requests,
// deduplicating against already-active actions of the same type/target.
func (o *Optimizer) handleOptimizationTrigger(ev events.Event) {
	strategy, _ := ev.Payload["action"].(string)
	if strategy == "" {
		return
	}

	params := map[string]any{}
	if strategy == string(ActionPauseComponent) || strategy == string(ActionRestartComponent) {
		if comp, ok := ev.Payload["component"].(string); ok {
			params["component"] = comp
		}
	}

	o.mu.Lock()
	for _, action := range o.actions {
		if string(action.Type) == strategy {
			// Already in effect; triggers re-fire every tick they hold.
			o.mu.Unlock()
			return
		}
	}
	o.mu.Unlock()

	if _, err := o.ApplyStrategy(strategy, params); err != nil {
		o.logger.Debug("trigger strategy not applied",
			slog.String("strategy", strategy),
			slog.Any("error", err),
		)
	}
}

// ----------------------------------------------------------------------------
// Metrics
// ----------------------------------------------------------------------------

// Metrics returns the optimizer's aggregate metrics snapshot.
func (o *Optimizer) Metrics() PerformanceMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	depths := make(map[string]int, len(o.queues))
	latencies := make(map[string]float64, len(o.queues))
	for id, q := range o.queues {
		depths[id] = len(q.requests)
		latencies[id] = q.avgLatencyMs
	}

	var paused []string
	for comp := range o.paused {
		paused = append(paused, comp)
	}
	sort.Strings(paused)

	return PerformanceMetrics{
		DegradationLevel:      o.level,
		AppliedOptimizations:  len(o.actions),
		QueueDepths:           depths,
		AverageQueueLatencyMs: latencies,
		RequestsQueued:        o.requestsQueued,
		RequestsProcessed:     o.requestsProcessed,
		RequestsEvicted:       o.requestsEvicted,
		RequestsExpired:       o.requestsExpired,
		Cache:                 o.cache.stats(),
		PausedComponents:      paused,
	}
}

// publish sends an event if a bus is attached.
func (o *Optimizer) publish(ev events.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

// ----------------------------------------------------------------------------
// Parameter helpers
// ----------------------------------------------------------------------------

func stringParam(params map[string]any, key, fallback string) string {
	if params == nil {
		return fallback
	}
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intParam(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}
