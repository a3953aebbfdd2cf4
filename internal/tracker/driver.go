package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/presenced/internal/config"
	"github.com/goodtune/presenced/internal/metrics"
	"github.com/goodtune/presenced/internal/notify"
	"github.com/goodtune/presenced/internal/storage"
	"github.com/rs/zerolog"
)

// Sample is one availability reading for one user.
type Sample struct {
	UserID       string
	Availability string
}

// PresenceProvider fetches the current availability of a set of users.
type PresenceProvider interface {
	Presences(ctx context.Context, userIDs []string) ([]Sample, error)
}

// DirectoryResolver maps an email address to a directory user.
type DirectoryResolver interface {
	Resolve(ctx context.Context, mail string) (*storage.User, error)
}

// Notifier delivers best-effort notifications.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message)
}

// authFailer is implemented by provider errors that signal invalid or
// revoked credentials. Such errors are fatal for the run; everything else
// from the provider is treated as transient.
type authFailer interface {
	AuthFailure() bool
}

func isAuthFailure(err error) bool {
	var af authFailer
	return errors.As(err, &af) && af.AuthFailure()
}

type trackedUser struct {
	user storage.User
	tier int
}

// Driver runs one daily tracking session: it recovers state left by a
// previous crash, waits for the tracking window, creates the session, and
// polls presence until the window closes or the context is canceled.
type Driver struct {
	store    storage.Store
	provider PresenceProvider
	resolver DirectoryResolver
	notifier Notifier
	clock    Clock
	cfg      config.TrackingConfig
	logger   zerolog.Logger
}

// NewDriver creates a tracking driver.
func NewDriver(store storage.Store, provider PresenceProvider, resolver DirectoryResolver, notifier Notifier, clock Clock, cfg config.TrackingConfig, logger zerolog.Logger) *Driver {
	return &Driver{
		store:    store,
		provider: provider,
		resolver: resolver,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With().Str("component", "tracker").Logger(),
	}
}

// Run executes the session. It returns nil when the run ends normally,
// including the case where the window has already passed at startup or a
// termination signal arrived before tracking began.
func (d *Driver) Run(ctx context.Context) error {
	err := d.run(ctx)
	if errors.Is(err, context.Canceled) {
		d.logger.Info().Msg("Shutdown requested, exiting")
		return nil
	}
	return err
}

func (d *Driver) run(ctx context.Context) error {
	if err := d.recoverCrashedSessions(ctx); err != nil {
		return err
	}

	window := NewWindow(d.cfg.StartHour, d.cfg.EndHour, d.clock)
	d.logger.Info().
		Time("start", window.Start()).
		Time("end", window.End()).
		Msg("Tracking window resolved")

	users, err := d.resolveUsers(ctx)
	if err != nil {
		return err
	}
	metrics.TrackedUsers.Set(float64(len(users)))

	if err := window.AwaitActive(ctx); err != nil {
		if errors.Is(err, ErrWindowClosed) {
			d.logger.Warn().Msg("Tracking window already closed, nothing to do")
			return nil
		}
		return err
	}

	session, err := d.store.Sessions().Create(ctx, d.clock.Now())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	d.logger.Info().Uint64("session_id", session.ID).Msg("Session started")
	d.notifier.Send(ctx, notify.Message{
		Title: "Presence tracking",
		Body:  fmt.Sprintf("Session %d started, tracking %d users", session.ID, len(users)),
	})

	machine := NewMachine(d.store.Intervals(), session.ID, d.cfg.KeepFlicker, d.logger)
	escalator := NewEscalator(d.cfg.EscalationDuration())

	runErr := d.loop(ctx, window, machine, escalator, users)

	// The run context is already canceled after a termination signal. The
	// session still has to be closed and announced, so shutdown work runs
	// on its own bounded context.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.endSession(shutdownCtx, window, machine, session.ID, users); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			d.logger.Error().Err(err).Msg("Failed to end session cleanly")
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		d.notifier.Send(shutdownCtx, notify.Message{
			Title:    "Presence tracking",
			Body:     fmt.Sprintf("Session %d ended abnormally: %v", session.ID, runErr),
			Severity: config.MaxSeverityTier,
		})
		return runErr
	}

	d.notifier.Send(shutdownCtx, notify.Message{
		Title: "Presence tracking",
		Body:  fmt.Sprintf("Session %d ended", session.ID),
	})
	return nil
}

// loop polls presence until the window closes or the context is canceled.
// Context cancellation is a graceful stop, not an error.
func (d *Driver) loop(ctx context.Context, window *Window, machine *Machine, escalator *Escalator, users map[string]*trackedUser) error {
	interval := d.cfg.PingInterval()

	for window.IsOpen() {
		if ctx.Err() != nil {
			d.logger.Info().Msg("Shutdown requested, stopping tracking loop")
			return nil
		}

		now := d.clock.Now()
		samples, err := d.poll(ctx, users)
		if err != nil {
			if isAuthFailure(err) {
				return fmt.Errorf("presence poll: %w", err)
			}
			metrics.PollErrors.Inc()
			d.logger.Error().Err(err).Msg("Presence poll failed, skipping tick")
		} else {
			for _, sample := range samples {
				if err := d.apply(ctx, machine, escalator, users, sample, now); err != nil {
					return err
				}
			}
			metrics.OpenIntervals.Set(float64(machine.OpenCount()))
		}

		if err := d.store.Sessions().Touch(ctx, machine.sessionID, now); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}

		if err := d.clock.Sleep(ctx, interval); err != nil {
			d.logger.Info().Msg("Shutdown requested, stopping tracking loop")
			return nil
		}
	}

	return nil
}

// poll fetches one round of samples and orders them by user ID so that
// persistence and notifications happen in a stable order.
func (d *Driver) poll(ctx context.Context, users map[string]*trackedUser) ([]Sample, error) {
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	started := time.Now()
	samples, err := d.provider.Presences(ctx, ids)
	metrics.PollDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].UserID < samples[j].UserID })
	return samples, nil
}

func (d *Driver) apply(ctx context.Context, machine *Machine, escalator *Escalator, users map[string]*trackedUser, sample Sample, at time.Time) error {
	tracked, ok := users[sample.UserID]
	if !ok {
		// Provider returned someone outside the tracked set.
		d.logger.Warn().Str("user_id", sample.UserID).Msg("Sample for unknown user ignored")
		return nil
	}
	metrics.SamplesTotal.WithLabelValues(sample.Availability).Inc()

	transition, interval, err := machine.Apply(ctx, sample.UserID, sample.Availability, at)
	if err != nil {
		return err
	}

	switch transition {
	case TransitionOpened:
		metrics.IntervalsOpened.Inc()
		if decision := escalator.Opened(tracked.tier); decision.Notify {
			d.notifier.Send(ctx, notify.Message{
				Title:    tracked.user.DisplayName,
				Body:     fmt.Sprintf("%s became unavailable at %s", tracked.user.DisplayName, at.Format("15:04:05")),
				Severity: decision.Severity,
			})
		}

	case TransitionClosed:
		duration := time.Duration(interval.DurationSeconds) * time.Second
		metrics.IntervalsClosed.Inc()
		metrics.IntervalDuration.Observe(duration.Seconds())
		if decision := escalator.Closed(tracked.tier, duration); decision.Notify {
			d.notifier.Send(ctx, notify.Message{
				Title:    tracked.user.DisplayName,
				Body:     fmt.Sprintf("%s is available again after %s", tracked.user.DisplayName, duration),
				Severity: decision.Severity,
			})
		}
	}
	return nil
}

// endSession force-closes all open intervals and the session itself. The
// end instant is clamped to the window boundary so a late shutdown does not
// stretch the recorded session.
func (d *Driver) endSession(ctx context.Context, window *Window, machine *Machine, sessionID uint64, users map[string]*trackedUser) error {
	end := d.clock.Now()
	if end.After(window.End()) {
		end = window.End()
	}

	closed, err := machine.CloseAll(ctx, end)
	if err != nil {
		return err
	}
	metrics.OpenIntervals.Set(0)

	if err := d.store.Sessions().Close(ctx, sessionID, end); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	d.logger.Info().
		Uint64("session_id", sessionID).
		Time("end", end).
		Int("intervals_force_closed", closed).
		Msg("Session closed")

	d.sendSessionStats(ctx, sessionID, users)
	return nil
}

// sendSessionStats sends a per-user end-of-session summary for users at the
// maximum severity tier.
func (d *Driver) sendSessionStats(ctx context.Context, sessionID uint64, users map[string]*trackedUser) {
	intervals, err := d.store.Intervals().ListBySession(ctx, sessionID)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to load session intervals for summary")
		return
	}

	counts := make(map[string]int)
	totals := make(map[string]time.Duration)
	for _, iv := range intervals {
		counts[iv.UserID]++
		totals[iv.UserID] += time.Duration(iv.DurationSeconds) * time.Second
	}

	ids := make([]string, 0, len(users))
	for id, u := range users {
		if u.tier == config.MaxSeverityTier {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		u := users[id]
		d.notifier.Send(ctx, notify.Message{
			Title:    u.user.DisplayName,
			Body:     fmt.Sprintf("%s went unavailable %d times for a total of %s", u.user.DisplayName, counts[id], totals[id]),
			Severity: u.tier,
		})
	}
}

// recoverCrashedSessions closes sessions left open by a previous run. Their
// intervals are closed at the session's last recorded sample, so a crash
// never inflates unavailability.
func (d *Driver) recoverCrashedSessions(ctx context.Context) error {
	open, err := d.store.Sessions().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open sessions: %w", err)
	}

	for _, session := range open {
		at := d.clock.Now()
		if session.LastSample != nil {
			at = *session.LastSample
		}

		closed, err := d.store.Intervals().CloseAllOpen(ctx, session.ID, at)
		if err != nil {
			return fmt.Errorf("recover session %d: %w", session.ID, err)
		}
		if err := d.store.Sessions().Close(ctx, session.ID, at); err != nil {
			return fmt.Errorf("recover session %d: %w", session.ID, err)
		}

		d.logger.Warn().
			Uint64("session_id", session.ID).
			Time("closed_at", at).
			Int("intervals_closed", closed).
			Msg("Recovered session left open by a previous run")
	}
	return nil
}

// resolveUsers maps the configured email list to directory users. Known
// users come from the store; unknown ones are resolved through the
// directory and persisted. Unresolvable addresses are skipped unless that
// would leave nobody to track.
func (d *Driver) resolveUsers(ctx context.Context) (map[string]*trackedUser, error) {
	users := make(map[string]*trackedUser)

	for _, entry := range d.cfg.TrackedUsers() {
		user, err := d.store.Users().GetByMail(ctx, entry.Mail)
		if errors.Is(err, storage.ErrNotFound) {
			resolved, rerr := d.resolver.Resolve(ctx, entry.Mail)
			if rerr != nil {
				if isAuthFailure(rerr) {
					return nil, fmt.Errorf("resolve %s: %w", entry.Mail, rerr)
				}
				d.logger.Error().Err(rerr).Str("mail", entry.Mail).Msg("Failed to resolve user, skipping")
				continue
			}
			if err := d.store.Users().Upsert(ctx, *resolved); err != nil {
				return nil, fmt.Errorf("persist user %s: %w", entry.Mail, err)
			}
			user = resolved
		} else if err != nil {
			return nil, fmt.Errorf("look up user %s: %w", entry.Mail, err)
		}

		users[user.ID] = &trackedUser{user: *user, tier: entry.Tier}
		d.logger.Debug().
			Str("user_id", user.ID).
			Str("mail", user.Mail).
			Int("tier", entry.Tier).
			Msg("Tracking user")
	}

	if len(users) == 0 {
		return nil, errors.New("tracker: no tracked users could be resolved")
	}
	return users, nil
}
