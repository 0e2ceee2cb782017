package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hexleaf/equity-screener/internal/barstore"
	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/rule"
)

// State is the loop's position in its cycle, exposed for health reporting.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateEvaluating  State = "evaluating"
	StateReconciling State = "reconciling"
)

const (
	// DefaultInterval is the pause between cycles.
	DefaultInterval = time.Minute
	// DefaultEntryTimeout bounds one entry's fetch and evaluation so a
	// slow instrument cannot stall the cycle.
	DefaultEntryTimeout = 10 * time.Second
	// DefaultCycleDeadline bounds a whole cycle; unfinished entries are
	// deferred to the next one.
	DefaultCycleDeadline = 45 * time.Second
)

// TemplateSource resolves strategy templates by id and version.
type TemplateSource interface {
	Get(ctx context.Context, id string, version int) (*rule.Template, error)
}

// Config tunes the loop.
type Config struct {
	Interval      time.Duration
	EntryTimeout  time.Duration
	CycleDeadline time.Duration
	Workers       int
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.EntryTimeout <= 0 {
		c.EntryTimeout = DefaultEntryTimeout
	}
	if c.CycleDeadline <= 0 {
		c.CycleDeadline = DefaultCycleDeadline
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Loop polls the watchlist: one cycle per interval, each cycle re-evaluates
// every entry and emits exactly one alert per match-state transition. Cycles
// are strictly sequential; the loop is the sole writer of entry match state.
type Loop struct {
	cfg       Config
	watchlist Watchlist
	templates TemplateSource
	bars      *barstore.SeriesCache
	cache     *indicator.Cache
	sink      AlertSink
	logger    zerolog.Logger

	mu      sync.Mutex
	state   State
	pending []Alert
}

// NewLoop creates a monitor loop.
func NewLoop(cfg Config, watchlist Watchlist, templates TemplateSource, bars *barstore.SeriesCache, cache *indicator.Cache, sink AlertSink, logger zerolog.Logger) *Loop {
	cfg.defaults()
	if cache == nil {
		cache = indicator.NewCache()
	}
	return &Loop{
		cfg:       cfg,
		watchlist: watchlist,
		templates: templates,
		bars:      bars,
		cache:     cache,
		sink:      sink,
		logger:    logger.With().Str("component", "monitor").Logger(),
		state:     StateIdle,
	}
}

// State returns the loop's current cycle phase.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run cycles until ctx is cancelled, then flushes pending alerts and
// returns. Only a failure to read the watchlist is fatal; everything else
// is isolated per entry.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.logger.Info().
		Dur("interval", l.cfg.Interval).
		Dur("cycle_deadline", l.cfg.CycleDeadline).
		Msg("Monitor loop started")

	for {
		if err := l.cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// The cycle deadline expired mid-read; the entries keep their
			// state and the next cycle retries them.
			l.logger.Warn().Err(err).Msg("Cycle deadline exceeded, work deferred to next cycle")
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}

	l.teardown()
	return nil
}

// cycle runs one Fetching/Evaluating/Reconciling pass.
func (l *Loop) cycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cycleCtx, cancel := context.WithTimeout(ctx, l.cfg.CycleDeadline)
	defer cancel()

	l.setState(StateFetching)
	defer l.setState(StateIdle)

	entries, err := l.watchlist.List(cycleCtx)
	if err != nil {
		return fmt.Errorf("read watchlist: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	templates, err := l.resolveTemplates(cycleCtx, entries)
	if err != nil {
		return err
	}

	l.setState(StateEvaluating)
	now := time.Now().UTC()
	outcomes := make([]entryOutcome, len(entries))

	g, evalCtx := errgroup.WithContext(cycleCtx)
	g.SetLimit(l.cfg.Workers)
	for i := range entries {
		i := i
		g.Go(func() error {
			outcomes[i] = l.evaluateEntry(evalCtx, entries[i], templates[templateKey(entries[i])], now)
			return nil
		})
	}
	_ = g.Wait()

	l.setState(StateReconciling)
	l.reconcile(ctx, entries, outcomes, now)

	// A blown cycle deadline defers work to the next cycle; only parent
	// cancellation stops the loop.
	return ctx.Err()
}

type entryOutcome struct {
	matched   bool
	evaluated bool
}

func (l *Loop) evaluateEntry(ctx context.Context, e WatchEntry, template *rule.Template, now time.Time) entryOutcome {
	if template == nil {
		return entryOutcome{}
	}
	entryCtx, cancel := context.WithTimeout(ctx, l.cfg.EntryTimeout)
	defer cancel()

	series, err := l.bars.Get(entryCtx, e.Instrument, e.Period, now)
	if err != nil {
		// No update this cycle; the entry keeps its state and is
		// retried next cycle.
		l.logger.Warn().
			Err(err).
			Str("instrument", e.Instrument).
			Str("strategy", e.Strategy).
			Str("period", string(e.Period)).
			Msg("Watch entry fetch failed, deferring")
		return entryOutcome{}
	}

	env := rule.Env{Bars: series, Indicators: make(map[string]*indicator.Result)}
	for _, spec := range template.Tree.Specs() {
		r, err := l.cache.Get(series, spec)
		if err != nil {
			l.logger.Warn().
				Err(err).
				Str("instrument", e.Instrument).
				Str("indicator", spec.Key()).
				Msg("Indicator computation failed, deferring")
			return entryOutcome{}
		}
		env.Indicators[spec.Key()] = r
	}

	matched, _ := rule.Evaluate(template.Tree, env, series.Len()-1)
	return entryOutcome{matched: matched, evaluated: true}
}

// reconcile compares outcomes to stored state in watchlist order, emitting
// one alert per transition. Entries that were not evaluated this cycle are
// skipped untouched.
func (l *Loop) reconcile(ctx context.Context, entries []WatchEntry, outcomes []entryOutcome, now time.Time) {
	transitions := 0
	for i, e := range entries {
		o := outcomes[i]
		if !o.evaluated || o.matched == e.Matched {
			continue
		}

		if err := l.watchlist.SetMatched(ctx, e.ID, o.matched, now); err != nil {
			l.logger.Error().
				Err(err).
				Str("entry", e.ID.String()).
				Msg("Failed to persist match state, skipping alert")
			continue
		}

		transition := TransitionExited
		if o.matched {
			transition = TransitionEntered
		}
		updated := e
		updated.Matched = o.matched
		updated.UpdatedAt = now
		l.emit(ctx, Alert{
			ID:         uuid.New(),
			Entry:      updated,
			Transition: transition,
			Timestamp:  now,
		})
		transitions++
	}

	if transitions > 0 {
		l.logger.Info().
			Int("entries", len(entries)).
			Int("transitions", transitions).
			Msg("Monitor cycle reconciled")
	}
}

// emit publishes one alert, parking it for retry when the sink is down.
func (l *Loop) emit(ctx context.Context, alert Alert) {
	l.flushPending(ctx)
	if err := l.sink.Publish(ctx, alert); err != nil {
		l.logger.Error().
			Err(err).
			Str("entry", alert.Entry.ID.String()).
			Str("transition", string(alert.Transition)).
			Msg("Alert publish failed, parked for retry")
		l.mu.Lock()
		l.pending = append(l.pending, alert)
		l.mu.Unlock()
	}
}

func (l *Loop) flushPending(ctx context.Context) {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for i, alert := range pending {
		if err := l.sink.Publish(ctx, alert); err != nil {
			l.mu.Lock()
			l.pending = append(l.pending, pending[i:]...)
			l.mu.Unlock()
			return
		}
	}
}

// teardown makes a final delivery attempt for parked alerts.
func (l *Loop) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.flushPending(ctx)

	l.mu.Lock()
	dropped := len(l.pending)
	l.mu.Unlock()
	if dropped > 0 {
		l.logger.Error().Int("count", dropped).Msg("Dropped undeliverable alerts at shutdown")
	}
	l.logger.Info().Msg("Monitor loop stopped")
}

func templateKey(e WatchEntry) string {
	return fmt.Sprintf("%s@%d", e.Strategy, e.Version)
}

// resolveTemplates loads each distinct strategy referenced by the watchlist
// once. A template that fails to load or validate disables its entries for
// the cycle rather than failing the others.
func (l *Loop) resolveTemplates(ctx context.Context, entries []WatchEntry) (map[string]*rule.Template, error) {
	out := make(map[string]*rule.Template)
	for _, e := range entries {
		key := templateKey(e)
		if _, seen := out[key]; seen {
			continue
		}
		t, err := l.templates.Get(ctx, e.Strategy, e.Version)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Warn().
				Err(err).
				Str("strategy", e.Strategy).
				Int("version", e.Version).
				Msg("Strategy template unavailable, entries deferred")
			out[key] = nil
			continue
		}
		out[key] = t
	}
	return out, nil
}
