package selector

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hexleaf/equity-screener/internal/barstore"
	"github.com/hexleaf/equity-screener/internal/indicator"
	"github.com/hexleaf/equity-screener/internal/market"
	"github.com/hexleaf/equity-screener/internal/rule"
)

// DefaultWorkers bounds the executor's parallelism when no explicit limit
// is configured. Actual provider pressure is bounded further by the shared
// fetch gate.
const DefaultWorkers = 8

// Executor evaluates a strategy across a universe of instruments and
// periods. Pairs are independent: evaluation runs on a bounded worker pool
// and a failing pair yields an annotated failed result instead of aborting
// the batch.
type Executor struct {
	bars    *barstore.SeriesCache
	cache   *indicator.Cache
	workers int
	logger  zerolog.Logger
}

// NewExecutor creates an executor. Non-positive workers falls back to
// DefaultWorkers.
func NewExecutor(bars *barstore.SeriesCache, cache *indicator.Cache, workers int, logger zerolog.Logger) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if cache == nil {
		cache = indicator.NewCache()
	}
	return &Executor{
		bars:    bars,
		cache:   cache,
		workers: workers,
		logger:  logger.With().Str("component", "selector").Logger(),
	}
}

// Run evaluates template over every (instrument, period) pair, where the
// periods are the intersection of the requested set and the template's
// declared ones. The returned slice holds one result per pair regardless of
// completion order: sorted by key (descending NaNs last), tie-broken on
// instrument id, then period. Cancelling ctx abandons unfinished pairs and
// returns the context error with no partial results.
func (e *Executor) Run(ctx context.Context, universe []string, template *rule.Template, periods []market.Period, asOf time.Time, key *SortKey) ([]Result, error) {
	if err := template.Validate(); err != nil {
		return nil, err
	}

	var applicable []market.Period
	for _, p := range periods {
		if template.AppliesTo(p) {
			applicable = append(applicable, p)
		}
	}

	type pair struct {
		instrument string
		period     market.Period
	}
	var pairs []pair
	for _, inst := range universe {
		for _, p := range applicable {
			pairs = append(pairs, pair{inst, p})
		}
	}

	specs := template.Tree.Specs()
	results := make([]Result, len(pairs))
	tasks := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				p := pairs[i]
				results[i] = e.evaluatePair(ctx, p.instrument, p.period, template, specs, asOf, key)
			}
		}()
	}

feed:
	for i := range pairs {
		select {
		case <-ctx.Done():
			break feed
		case tasks <- i:
		}
	}
	close(tasks)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.sortResults(results, key)

	matched := 0
	for i := range results {
		if results[i].Matched {
			matched++
		}
	}
	e.logger.Info().
		Str("strategy", template.ID).
		Int("pairs", len(results)).
		Int("matched", matched).
		Msg("Selection run complete")
	return results, nil
}

func (e *Executor) evaluatePair(ctx context.Context, instrument string, period market.Period, template *rule.Template, specs []indicator.Spec, asOf time.Time, key *SortKey) Result {
	res := Result{
		Instrument:  instrument,
		Strategy:    template.ID,
		Version:     template.Version,
		Period:      period,
		EvaluatedAt: asOf,
		sortValue:   math.NaN(),
	}

	series, err := e.bars.Get(ctx, instrument, period, asOf)
	if err != nil {
		res.Failed = true
		res.FailReason = failReason(err)
		return res
	}

	env := rule.Env{
		Bars:       series,
		Indicators: make(map[string]*indicator.Result, len(specs)),
	}
	for _, spec := range specs {
		r, err := e.cache.Get(series, spec)
		if err != nil {
			res.Failed = true
			res.FailReason = "indicator " + spec.Key() + ": " + err.Error()
			return res
		}
		env.Indicators[spec.Key()] = r
	}

	at := series.Len() - 1
	res.Matched, res.Trace = rule.Evaluate(template.Tree, env, at)
	res.sortValue = e.resolveSortKey(env, key, at)
	return res
}

func (e *Executor) resolveSortKey(env rule.Env, key *SortKey, at int) float64 {
	if key == nil {
		return math.NaN()
	}
	if key.Spec != nil {
		r, err := e.cache.Get(env.Bars, *key.Spec)
		if err != nil {
			return math.NaN()
		}
		v, err := r.ValueAt(key.Line, at)
		if err != nil {
			return math.NaN()
		}
		return v
	}
	if key.Price != "" {
		return env.Bars.At(at).Value(key.Price)
	}
	return math.NaN()
}

// sortResults orders by the key value with NaNs (failed or keyless pairs)
// after every numeric value, then instrument id, then period. The ordering
// is deterministic for a given input regardless of which worker finished
// first.
func (e *Executor) sortResults(results []Result, key *SortKey) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if key != nil {
			an, bn := math.IsNaN(a.sortValue), math.IsNaN(b.sortValue)
			switch {
			case an != bn:
				return bn
			case !an && a.sortValue != b.sortValue:
				if key.Descending {
					return a.sortValue > b.sortValue
				}
				return a.sortValue < b.sortValue
			}
		}
		if a.Instrument != b.Instrument {
			return a.Instrument < b.Instrument
		}
		return a.Period < b.Period
	})
}

func failReason(err error) string {
	switch {
	case errors.Is(err, barstore.ErrUnavailable):
		return "data unavailable: " + err.Error()
	case errors.Is(err, barstore.ErrRateLimited):
		return "rate limited: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout: " + err.Error()
	default:
		return "fetch failed: " + err.Error()
	}
}
