package updater

// updater.go drives the fetch -> parse -> publish cycle.
//
// A refresh check runs either on a ticker (Start/Stop) or on demand
// (ForceUpdate, Load). All checks share one singleflight key, so at most
// one is in flight at any time and a caller arriving while a check runs
// waits for that check and receives its outcome instead of starting a
// second download. The new snapshot is built completely off to the side and
// handed to the store in one atomic publish; any failure leaves the
// currently published snapshot untouched.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/daviddyess/iptoasn/internal/fetcher"
	"github.com/daviddyess/iptoasn/internal/parser"
	"github.com/daviddyess/iptoasn/internal/store"
)

// ErrInvalidInterval is returned by Start for a non-positive interval.
var ErrInvalidInterval = errors.New("update interval must be positive")

// refreshKey is the single singleflight key shared by every check.
const refreshKey = "refresh"

// Source produces raw table bytes. *fetcher.Fetcher implements it.
type Source interface {
	Fetch(ctx context.Context) (*fetcher.Result, error)
}

// State is the scheduling state of an Updater.
type State int

const (
	Idle State = iota
	Scheduled
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config configures an Updater.
type Config struct {
	Source Source
	Store  *store.Store
	Parse  parser.Options
	Logger *slog.Logger

	// OnReport is called after every check, successful or not.
	OnReport func(context.Context, Report)
}

// Updater owns the refresh schedule for one store.
type Updater struct {
	src      Source
	store    *store.Store
	parse    parser.Options
	log      *slog.Logger
	onReport func(context.Context, Report)
	now      func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	loop     *loop // nil unless scheduled
	stopped  bool
	running  int
	interval time.Duration
	last     *Report
}

// loop is one ticker goroutine started by Start.
type loop struct {
	stop        chan struct{}
	reconfigure chan time.Duration
}

// New creates an idle Updater.
func New(cfg Config) *Updater {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Parse.Logger == nil {
		cfg.Parse.Logger = log
	}
	return &Updater{
		src:      cfg.Source,
		store:    cfg.Store,
		parse:    cfg.Parse,
		log:      log,
		onReport: cfg.OnReport,
		now:      time.Now,
	}
}

// Start schedules a check every interval. Calling Start while already
// scheduled only changes the interval; it never adds a second ticker.
func (u *Updater) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	u.interval = interval
	u.stopped = false

	if u.loop != nil {
		// Replace any pending reconfiguration with the latest interval.
		select {
		case <-u.loop.reconfigure:
		default:
		}
		u.loop.reconfigure <- interval
		u.log.Info("auto update rescheduled", "interval", interval)
		return nil
	}

	l := &loop{
		stop:        make(chan struct{}),
		reconfigure: make(chan time.Duration, 1),
	}
	u.loop = l
	go u.run(l, interval)

	u.log.Info("auto update started", "interval", interval)
	return nil
}

// Stop cancels future scheduled checks. A check already in flight is not
// interrupted; it finishes and publishes its result. Stop is idempotent.
func (u *Updater) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stopped = true
	if u.loop == nil {
		return
	}
	close(u.loop.stop)
	u.loop = nil
	u.log.Info("auto update stopped")
}

func (u *Updater) run(l *loop, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case d := <-l.reconfigure:
			ticker.Reset(d)
		case <-ticker.C:
			// Stop may have raced with the tick.
			select {
			case <-l.stop:
				return
			default:
			}
			u.check(context.Background(), TriggerScheduled)
		}
	}
}

// ForceUpdate runs a check now, or joins the one already in flight, and
// reports whether a new snapshot was published. A failed check returns its
// error; the published snapshot is unaffected either way.
//
// Cancelling ctx abandons the wait but not the shared check.
func (u *Updater) ForceUpdate(ctx context.Context) (bool, error) {
	rep, err := u.checkContext(ctx, TriggerForced)
	if err != nil {
		return false, err
	}
	return rep.Updated, rep.Err
}

// Load performs the initial check. It fails when no data can be obtained
// at all. Cached data is acceptable, even when stale or not modified.
func (u *Updater) Load(ctx context.Context) error {
	rep, err := u.checkContext(ctx, TriggerLoad)
	if err != nil {
		return err
	}
	if rep.Err != nil {
		return fmt.Errorf("initial load: %w", rep.Err)
	}
	return nil
}

func (u *Updater) checkContext(ctx context.Context, trigger Trigger) (Report, error) {
	detached := context.WithoutCancel(ctx)
	ch := u.group.DoChan(refreshKey, func() (any, error) {
		return u.refresh(detached, trigger), nil
	})

	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res := <-ch:
		rep := res.Val.(Report)
		if res.Shared && rep.Trigger != trigger {
			u.log.Debug("joined in-flight check", "trigger", trigger, "running", rep.Trigger)
		}
		return rep, nil
	}
}

func (u *Updater) check(ctx context.Context, trigger Trigger) Report {
	v, _, _ := u.group.Do(refreshKey, func() (any, error) {
		return u.refresh(ctx, trigger), nil
	})
	return v.(Report)
}

// refresh is the body of one check. Only one runs at a time.
func (u *Updater) refresh(ctx context.Context, trigger Trigger) (rep Report) {
	u.setRunning(1)
	defer u.setRunning(-1)

	rep = Report{Trigger: trigger, StartedAt: u.now()}
	current := u.store.Current().Metadata()
	initial := current.Generation == 0

	defer func() {
		rep.Duration = time.Since(rep.StartedAt)
		if !rep.Updated {
			rep.RecordCount = current.RecordCount
		}
		u.finish(ctx, rep)
	}()

	res, err := u.src.Fetch(ctx)
	if err != nil {
		rep.Outcome = OutcomeFailed
		rep.Err = err
		return rep
	}
	rep.ETag = res.ETag
	rep.Warning = res.Warning

	// Once something is published, cached bytes never replace it.
	if !initial {
		switch {
		case res.NotModified:
			rep.Outcome = OutcomeNotModified
			return rep
		case res.Stale:
			rep.Outcome = OutcomeStale
			return rep
		case res.Checksum != 0 && res.Checksum == current.Checksum:
			rep.Outcome = OutcomeUnchanged
			return rep
		}
	}

	candidate, err := parser.Parse(res.Data, u.parse)
	if err != nil {
		rep.Outcome = OutcomeFailed
		rep.Err = err
		return rep
	}

	snap := store.NewSnapshot(candidate, store.Metadata{
		SourceETag:   res.ETag,
		LastModified: res.LastModified,
		FetchedAt:    res.FetchedAt,
		Checksum:     res.Checksum,
	})
	u.store.Publish(snap)

	rep.Updated = true
	rep.Outcome = OutcomeUpdated
	rep.RecordCount = snap.Metadata().RecordCount
	if res.Stale {
		rep.Outcome = OutcomeStale
	}
	return rep
}

func (u *Updater) finish(ctx context.Context, rep Report) {
	attrs := []any{
		"trigger", rep.Trigger,
		"outcome", rep.Outcome,
		"records", rep.RecordCount,
		"duration_ms", rep.Duration.Milliseconds(),
	}
	switch {
	case rep.Err != nil:
		u.log.Error("refresh failed", append(attrs, "error", rep.Err)...)
	case rep.Warning != nil:
		u.log.Warn("refresh completed with warning", append(attrs, "warning", rep.Warning)...)
	default:
		u.log.Info("refresh completed", attrs...)
	}

	u.mu.Lock()
	u.last = &rep
	u.mu.Unlock()

	if u.onReport != nil {
		u.onReport(ctx, rep)
	}
}

func (u *Updater) setRunning(delta int) {
	u.mu.Lock()
	u.running += delta
	u.mu.Unlock()
}

// State returns the current scheduling state.
func (u *Updater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stateLocked()
}

func (u *Updater) stateLocked() State {
	switch {
	case u.running > 0:
		return Running
	case u.loop != nil:
		return Scheduled
	case u.stopped:
		return Stopped
	default:
		return Idle
	}
}

// WaitIdle blocks until no check is in flight or ctx is done. Used during
// shutdown so a running refresh can publish before the process exits.
func (u *Updater) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		u.mu.Lock()
		idle := u.running == 0
		u.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status is a point-in-time view of the updater for monitoring.
type Status struct {
	State       State      `json:"state"`
	Interval    string     `json:"interval,omitempty"`
	LastCheck   *time.Time `json:"last_check,omitempty"`
	LastOutcome Outcome    `json:"last_outcome,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Status returns the current updater state for monitoring/debugging.
func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()

	st := Status{State: u.stateLocked()}
	if u.loop != nil {
		st.Interval = u.interval.String()
	}
	if u.last != nil {
		t := u.last.StartedAt
		st.LastCheck = &t
		st.LastOutcome = u.last.Outcome
		if u.last.Err != nil {
			st.LastError = u.last.Err.Error()
		}
	}
	return st
}
