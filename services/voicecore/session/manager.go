// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/observability"
)

// expiryWarningFraction of the idle timeout at which the advance
// warning event fires.
const expiryWarningFraction = 0.8

// Config holds session manager tunables.
type Config struct {
	// MaxConcurrentSessions is the global concurrency ceiling.
	MaxConcurrentSessions int

	// SessionTimeout ends sessions idle longer than this.
	SessionTimeout time.Duration

	// MaxSessionDuration ends sessions regardless of activity.
	MaxSessionDuration time.Duration

	// SweepInterval is the cadence of the expiry sweep.
	SweepInterval time.Duration

	// ContextWindow bounds retained conversation turns per session.
	ContextWindow int
}

// DefaultConfig returns session defaults for a family device.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSessions: 5,
		SessionTimeout:        10 * time.Minute,
		MaxSessionDuration:    2 * time.Hour,
		SweepInterval:         30 * time.Second,
		ContextWindow:         10,
	}
}

// VoiceMatcher resolves a voice sample against registered profiles.
// Implementations live outside the core; a nil matcher disables
// voiceprint identification.
type VoiceMatcher interface {
	Match(sample []byte, profiles []*UserProfile) (userID string, confidence float64, ok bool)
}

// Manager owns session lifetime, concurrency limits, parental-control
// gating, and multi-user arbitration.
//
// # Thread Safety
//
// Safe for concurrent use. Callers receive copies of session state;
// mutation goes through Manager methods only.
type Manager struct {
	cfg     Config
	bus     *events.Bus
	logger  *slog.Logger
	metrics *observability.Metrics
	store   Store
	matcher VoiceMatcher
	clock   func() time.Time

	mu       sync.Mutex
	sessions map[string]*State
	profiles map[string]*UserProfile
	contexts map[string]*MultiUserContext
	warned   map[string]bool

	totalCreated int64
	totalResumed int64
	totalEnded   int64
	totalDenied  int64

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus attaches the event bus.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics attaches prometheus metrics (may be nil).
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithStore attaches the persistence layer. Without a store, sessions
// and profiles live in memory only.
func WithStore(store Store) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithVoiceMatcher attaches a voiceprint matcher.
func WithVoiceMatcher(matcher VoiceMatcher) Option {
	return func(m *Manager) {
		m.matcher = matcher
	}
}

// WithClock overrides the time source. Tests use this to exercise
// parental-hours windows and expiry deterministically.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates a session manager. Registered profiles are loaded
// from the store when one is attached.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 5
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Minute
	}
	if cfg.MaxSessionDuration <= 0 {
		cfg.MaxSessionDuration = 2 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 10
	}

	m := &Manager{
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    time.Now,
		sessions: make(map[string]*State),
		profiles: make(map[string]*UserProfile),
		contexts: make(map[string]*MultiUserContext),
		warned:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("subsystem", "session_manager"))

	if m.store != nil {
		profiles, err := m.store.Profiles()
		if err != nil {
			return nil, fmt.Errorf("load profiles: %w", err)
		}
		for _, p := range profiles {
			m.profiles[p.UserID] = p
		}
	}
	return m, nil
}

// Start begins the background expiry sweep.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	m.logger.Info("session manager started",
		slog.Int("max_concurrent", m.cfg.MaxConcurrentSessions),
		slog.Duration("session_timeout", m.cfg.SessionTimeout),
	)
	return nil
}

// Stop halts the sweep loop. Active sessions are left intact; the
// daemon persists them through the store on shutdown. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("session manager stopped")
}

func (m *Manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// ============================================================================
// Profiles and identification
// ============================================================================

// RegisterProfile adds or replaces a user profile.
func (m *Manager) RegisterProfile(profile UserProfile) error {
	if profile.UserID == "" {
		return fmt.Errorf("profile user id is required")
	}
	now := m.clock()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	m.mu.Lock()
	m.profiles[profile.UserID] = &profile
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveProfile(&profile); err != nil {
			return fmt.Errorf("persist profile %s: %w", profile.UserID, err)
		}
	}
	return nil
}

// Profile returns a copy of a registered profile.
func (m *Manager) Profile(userID string) (UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return UserProfile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	return *p, nil
}

// IdentifyUser resolves a speaker to a registered user.
//
// # Description
//
// Resolution order: voiceprint match (when a matcher is attached and a
// sample is provided), then an explicit "user_id" context hint naming a
// registered profile. When neither resolves, an anonymous low-confidence
// identity is returned rather than an error so the turn can proceed.
func (m *Manager) IdentifyUser(voiceSample []byte, hints map[string]string) Identification {
	m.mu.Lock()
	profiles := make([]*UserProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		profiles = append(profiles, p)
	}
	m.mu.Unlock()

	if m.matcher != nil && len(voiceSample) > 0 {
		if userID, confidence, ok := m.matcher.Match(voiceSample, profiles); ok {
			return Identification{UserID: userID, Confidence: confidence, Method: "voiceprint"}
		}
	}

	if hinted := hints["user_id"]; hinted != "" {
		m.mu.Lock()
		_, known := m.profiles[hinted]
		m.mu.Unlock()
		if known {
			return Identification{UserID: hinted, Confidence: 0.9, Method: "hint"}
		}
	}

	return Identification{
		UserID:     "anon-" + uuid.NewString(),
		Confidence: 0.1,
		Method:     "fallback",
	}
}

// ============================================================================
// Session lifecycle
// ============================================================================

// CreateOptions modifies session creation.
type CreateOptions struct {
	// Resume returns the user's existing active session with refreshed
	// activity instead of creating a new one.
	Resume bool
}

// CreateOrResumeSession creates a session for a user, or resumes their
// active one.
//
// # Description
//
// Enforcement order: resume short-circuit, parental-control
// preconditions (allowed hours, supervision), then the global
// concurrency ceiling. Parental denials are explicit errors wrapping
// ErrOutsideAllowedHours / ErrSupervisionRequired, never silent
// fallbacks.
//
// # Outputs
//
//	State - A copy of the created or resumed session.
//	error - ErrSessionLimitExceeded at capacity, or a parental denial.
func (m *Manager) CreateOrResumeSession(userID string, opts CreateOptions) (State, error) {
	now := m.clock()

	m.mu.Lock()

	if opts.Resume {
		for _, s := range m.sessions {
			if s.UserID == userID && s.Status == StatusActive {
				s.LastActivity = now
				delete(m.warned, s.SessionID)
				m.totalResumed++
				state := copyState(s)
				m.mu.Unlock()

				m.persist(&state)
				if m.metrics != nil {
					m.metrics.SessionsCreatedTotal.WithLabelValues("resumed").Inc()
				}
				m.publish(events.Event{
					Type:      events.TypeSessionResumed,
					Source:    "session-manager",
					UserID:    userID,
					SessionID: state.SessionID,
					Priority:  events.PriorityLow,
				})
				return state, nil
			}
		}
	}

	profile := m.profileForLocked(userID)
	if err := m.checkParentalControlsLocked(profile, now); err != nil {
		m.totalDenied++
		m.mu.Unlock()

		m.publish(events.Event{
			Type:     events.TypeParentalControlDenied,
			Source:   "session-manager",
			UserID:   userID,
			Priority: events.PriorityHigh,
			Payload:  map[string]any{"reason": err.Error()},
		})
		return State{}, err
	}

	active := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			active++
		}
	}
	if active >= m.cfg.MaxConcurrentSessions {
		m.totalDenied++
		m.mu.Unlock()
		return State{}, fmt.Errorf("%w: %d active sessions",
			ErrSessionLimitExceeded, active)
	}

	s := &State{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		Status:       StatusActive,
		StartTime:    now,
		LastActivity: now,
		Profile:      profile,
	}
	m.sessions[s.SessionID] = s
	m.totalCreated++
	activeNow := active + 1
	state := copyState(s)
	m.mu.Unlock()

	m.persist(&state)
	if m.metrics != nil {
		m.metrics.SessionsCreatedTotal.WithLabelValues("new").Inc()
		m.metrics.ActiveSessions.Set(float64(activeNow))
	}
	m.publish(events.Event{
		Type:      events.TypeSessionCreated,
		Source:    "session-manager",
		UserID:    userID,
		SessionID: state.SessionID,
		Priority:  events.PriorityLow,
		Payload:   map[string]any{"age_group": string(profile.AgeGroup)},
	})

	m.logger.Info("session created",
		slog.String("session_id", state.SessionID),
		slog.String("user_id", userID),
		slog.Int("active_sessions", activeNow),
	)
	return state, nil
}

// profileForLocked returns the registered profile or a default for
// unknown users. Caller holds mu.
func (m *Manager) profileForLocked(userID string) UserProfile {
	if p, ok := m.profiles[userID]; ok {
		return *p
	}
	return UserProfile{
		UserID:   userID,
		AgeGroup: AgeGroupChild, // unknown speakers get the safest defaults
		Preferences: Preferences{
			ContentFilter: FilterStrict,
			Volume:        50,
		},
	}
}

// checkParentalControlsLocked validates allowed hours and supervision.
// Caller holds mu.
func (m *Manager) checkParentalControlsLocked(profile UserProfile, now time.Time) error {
	pc := profile.ParentalControls
	if !pc.Enabled {
		return nil
	}

	if pc.AllowedStartHour != 0 || pc.AllowedEndHour != 0 {
		if !hourInWindow(now.Hour(), pc.AllowedStartHour, pc.AllowedEndHour) {
			return fmt.Errorf("%w: %02d:00-%02d:00 for user %s",
				ErrOutsideAllowedHours, pc.AllowedStartHour, pc.AllowedEndHour, profile.UserID)
		}
	}

	if pc.SupervisionRequired {
		supervised := false
		for _, s := range m.sessions {
			if s.Status != StatusActive || s.UserID == profile.UserID {
				continue
			}
			if s.Profile.AgeGroup == AgeGroupAdult {
				supervised = true
				break
			}
		}
		if !supervised {
			return fmt.Errorf("%w: user %s needs an active adult session",
				ErrSupervisionRequired, profile.UserID)
		}
	}
	return nil
}

// hourInWindow reports whether hour falls inside [start, end), allowing
// windows that wrap midnight.
func hourInWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// GetSession returns a copy of a session.
func (m *Manager) GetSession(sessionID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return copyState(s), nil
}

// UserSessions returns copies of a user's sessions, newest first.
func (m *Manager) UserSessions(userID string) []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []State
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, copyState(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// UpdateActivity refreshes a session's last-activity timestamp and
// resets its expiry warning.
func (m *Manager) UpdateActivity(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.LastActivity = m.clock()
	delete(m.warned, sessionID)
	state := copyState(s)
	m.mu.Unlock()

	m.persist(&state)
	return nil
}

// UpdateUserPreferences applies non-zero preference fields to a
// registered profile and any of the user's live sessions.
func (m *Manager) UpdateUserPreferences(userID string, prefs Preferences) error {
	m.mu.Lock()
	p, ok := m.profiles[userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}

	if prefs.ContentFilter != "" {
		p.Preferences.ContentFilter = prefs.ContentFilter
	}
	if prefs.Voice != "" {
		p.Preferences.Voice = prefs.Voice
	}
	if prefs.Volume != 0 {
		p.Preferences.Volume = prefs.Volume
	}
	if prefs.Language != "" {
		p.Preferences.Language = prefs.Language
	}
	p.UpdatedAt = m.clock()
	updated := *p

	for _, s := range m.sessions {
		if s.UserID == userID {
			s.Profile.Preferences = p.Preferences
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveProfile(&updated); err != nil {
			return fmt.Errorf("persist profile %s: %w", userID, err)
		}
	}
	return nil
}

// RecordTurn appends a completed turn to the session's bounded context
// and folds its latency into the running metrics.
func (m *Manager) RecordTurn(sessionID string, turn Turn) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.clock()
	}
	s.Context = append(s.Context, turn)
	if len(s.Context) > m.cfg.ContextWindow {
		s.Context = s.Context[len(s.Context)-m.cfg.ContextWindow:]
	}

	s.Metrics.Interactions++
	if !turn.Success {
		s.Metrics.Failures++
	}
	if s.Metrics.Interactions == 1 {
		s.Metrics.AverageLatencyMs = float64(turn.LatencyMs)
	} else {
		s.Metrics.AverageLatencyMs = 0.2*float64(turn.LatencyMs) + 0.8*s.Metrics.AverageLatencyMs
	}
	s.LastActivity = turn.Timestamp
	delete(m.warned, sessionID)
	state := copyState(s)
	m.mu.Unlock()

	m.persist(&state)
	return nil
}

// IncrementSafetyViolations bumps a session's safety counter.
func (m *Manager) IncrementSafetyViolations(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.Metrics.SafetyViolations++
	state := copyState(s)
	m.mu.Unlock()

	m.persist(&state)
	return nil
}

// EndSession terminates a session with a reason.
func (m *Manager) EndSession(sessionID, reason string) error {
	now := m.clock()

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.Status = StatusEnded
	s.EndReason = reason
	s.LastActivity = now
	final := copyState(s)
	delete(m.sessions, sessionID)
	delete(m.warned, sessionID)
	m.totalEnded++
	m.gcMultiUserLocked(s.UserID)

	active := 0
	for _, live := range m.sessions {
		if live.Status == StatusActive {
			active++
		}
	}
	m.mu.Unlock()

	m.persist(&final)
	if m.metrics != nil {
		m.metrics.SessionsEndedTotal.WithLabelValues(reason).Inc()
		m.metrics.ActiveSessions.Set(float64(active))
	}
	m.publish(events.Event{
		Type:      events.TypeSessionEnded,
		Source:    "session-manager",
		UserID:    final.UserID,
		SessionID: sessionID,
		Priority:  events.PriorityLow,
		Payload: map[string]any{
			"reason":       reason,
			"interactions": final.Metrics.Interactions,
			"duration_ms":  now.Sub(final.StartTime).Milliseconds(),
		},
	})

	m.logger.Info("session ended",
		slog.String("session_id", sessionID),
		slog.String("user_id", final.UserID),
		slog.String("reason", reason),
	)
	return nil
}

// ============================================================================
// Expiry sweep
// ============================================================================

// Sweep ends expired sessions and emits advance expiry warnings.
//
// # Description
//
// A session ends when idle beyond SessionTimeout or older than
// MaxSessionDuration. When inactivity crosses 80% of the timeout, a
// session-expiry-warning event fires exactly once; recording activity
// re-arms the warning.
//
// Exported so tests can drive the sweep deterministically.
func (m *Manager) Sweep() {
	now := m.clock()
	warnAfter := time.Duration(float64(m.cfg.SessionTimeout) * expiryWarningFraction)

	type expiry struct {
		sessionID string
		reason    string
	}
	var expired []expiry
	var warnings []events.Event

	m.mu.Lock()
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActivity)
		age := now.Sub(s.StartTime)

		switch {
		case idle > m.cfg.SessionTimeout:
			expired = append(expired, expiry{id, "timeout"})
		case age > m.cfg.MaxSessionDuration:
			expired = append(expired, expiry{id, "max_duration"})
		case idle > warnAfter && !m.warned[id]:
			m.warned[id] = true
			warnings = append(warnings, events.Event{
				Type:      events.TypeSessionExpiryWarning,
				Source:    "session-manager",
				UserID:    s.UserID,
				SessionID: id,
				Priority:  events.PriorityLow,
				Payload: map[string]any{
					"idle_ms":    idle.Milliseconds(),
					"timeout_ms": m.cfg.SessionTimeout.Milliseconds(),
				},
			})
		}
	}
	m.mu.Unlock()

	for _, ev := range warnings {
		m.publish(ev)
	}
	for _, e := range expired {
		if err := m.EndSession(e.sessionID, e.reason); err != nil {
			m.logger.Warn("sweep failed to end session",
				slog.String("session_id", e.sessionID),
				slog.Any("error", err),
			)
		}
	}
}

// ============================================================================
// Multi-user arbitration
// ============================================================================

// HandleMultiUserInteraction creates or returns the multi-user context
// for a set of concurrently interacting sessions.
//
// # Description
//
// The context is keyed by the sorted participant user-id set, so the
// same participants always resolve to the same context regardless of
// join order. Preferences merge deterministically and command priority
// goes to the eldest registered participant (lexicographic user-id
// tie-break).
func (m *Manager) HandleMultiUserInteraction(sessionIDs []string, primaryUserID string) (MultiUserContext, error) {
	if len(sessionIDs) < 2 {
		return MultiUserContext{}, fmt.Errorf("%w: need at least 2 sessions, got %d",
			ErrInvalidParticipants, len(sessionIDs))
	}

	m.mu.Lock()
	userIDs := make([]string, 0, len(sessionIDs))
	profiles := make([]*UserProfile, 0, len(sessionIDs))
	seen := make(map[string]bool)
	for _, id := range sessionIDs {
		s, ok := m.sessions[id]
		if !ok {
			m.mu.Unlock()
			return MultiUserContext{}, fmt.Errorf("%w: session %s", ErrInvalidParticipants, id)
		}
		if seen[s.UserID] {
			continue
		}
		seen[s.UserID] = true
		userIDs = append(userIDs, s.UserID)
		profile := s.Profile
		profiles = append(profiles, &profile)
	}
	if len(userIDs) < 2 {
		m.mu.Unlock()
		return MultiUserContext{}, fmt.Errorf("%w: need at least 2 distinct users",
			ErrInvalidParticipants)
	}

	key := multiUserKey(userIDs)
	if existing, ok := m.contexts[key]; ok {
		ctx := *existing
		m.mu.Unlock()
		return ctx, nil
	}

	ctx := &MultiUserContext{
		Key:                   key,
		PrimaryUserID:         primaryUserID,
		ActiveUsers:           userIDs,
		CreatedAt:             m.clock(),
		SharedPreferences:     mergePreferences(profiles, primaryUserID),
		CommandPriorityUserID: commandPriorityUser(profiles),
	}
	m.contexts[key] = ctx
	created := *ctx
	m.mu.Unlock()

	m.publish(events.Event{
		Type:     events.TypeMultiUserStarted,
		Source:   "session-manager",
		UserID:   primaryUserID,
		Priority: events.PriorityMedium,
		Payload: map[string]any{
			"participants":     len(created.ActiveUsers),
			"command_priority": created.CommandPriorityUserID,
			"content_filter":   string(created.SharedPreferences.ContentFilter),
		},
	})
	return created, nil
}

// gcMultiUserLocked drops contexts whose participants have no remaining
// sessions. Caller holds mu.
func (m *Manager) gcMultiUserLocked(endedUserID string) {
	for key, ctx := range m.contexts {
		involved := false
		for _, uid := range ctx.ActiveUsers {
			if uid == endedUserID {
				involved = true
				break
			}
		}
		if !involved {
			continue
		}

		live := 0
		for _, uid := range ctx.ActiveUsers {
			for _, s := range m.sessions {
				if s.UserID == uid && s.Status == StatusActive {
					live++
					break
				}
			}
		}
		if live < 2 {
			delete(m.contexts, key)
		}
	}
}

// ============================================================================
// Statistics and helpers
// ============================================================================

// Statistics returns manager-wide counters.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	var latencySum float64
	var latencyCount int
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			active++
		}
		if s.Metrics.Interactions > 0 {
			latencySum += s.Metrics.AverageLatencyMs
			latencyCount++
		}
	}

	stats := Statistics{
		ActiveSessions:    active,
		TotalCreated:      m.totalCreated,
		TotalResumed:      m.totalResumed,
		TotalEnded:        m.totalEnded,
		TotalDenied:       m.totalDenied,
		MultiUserContexts: len(m.contexts),
		RegisteredUsers:   len(m.profiles),
	}
	if latencyCount > 0 {
		stats.AverageLatencyMs = latencySum / float64(latencyCount)
	}
	return stats
}

// copyState deep-copies a session so callers never alias manager state.
func copyState(s *State) State {
	out := *s
	if len(s.Context) > 0 {
		out.Context = make([]Turn, len(s.Context))
		copy(out.Context, s.Context)
	}
	return out
}

// persist writes a session snapshot through the store, best effort.
func (m *Manager) persist(state *State) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(state); err != nil {
		m.logger.Warn("session persistence failed",
			slog.String("session_id", state.SessionID),
			slog.Any("error", err),
		)
	}
}

// publish sends an event if a bus is attached.
func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
