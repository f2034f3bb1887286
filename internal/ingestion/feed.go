package ingestion

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"SynthPool/internal/observability"
	"SynthPool/internal/oracle"
)

// FeedRunner drains raw feed messages, parses them and applies the
// results to the shared feed cache. Malformed payloads are acked and
// counted rather than redelivered: a payload that failed to parse once
// will fail every time.
type FeedRunner struct {
	cache   *oracle.FeedCache
	input   <-chan RawEvent
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewFeedRunner(cache *oracle.FeedCache, input <-chan RawEvent, metrics *observability.Metrics) *FeedRunner {
	return &FeedRunner{
		cache:   cache,
		input:   input,
		log:     observability.NewLogger("feed"),
		metrics: metrics,
	}
}

// Run processes messages until the context is cancelled.
func (r *FeedRunner) Run(ctx context.Context) {
	r.log.Info().Msg("feed runner started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("feed runner stopping")
			return
		case raw, ok := <-r.input:
			if !ok {
				r.log.Info().Msg("feed channel closed")
				return
			}
			r.handle(raw)
		}
	}
}

func (r *FeedRunner) handle(raw RawEvent) {
	if strings.HasSuffix(raw.Subject, ".debtratio") {
		r.handleDebtRatio(raw)
		return
	}
	r.handlePrice(raw)
}

func (r *FeedRunner) handlePrice(raw RawEvent) {
	key, round, err := ParsePriceUpdate(raw.Data)
	if err != nil {
		r.metrics.ParseErrors.WithLabelValues(raw.Subject).Inc()
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed price update")
		r.ack(raw)
		return
	}
	if r.cache.UpdateRate(key, round) {
		r.metrics.RateUpdates.WithLabelValues(string(key)).Inc()
	} else {
		r.metrics.RateRoundsDropped.WithLabelValues(string(key)).Inc()
		r.log.Debug().
			Str("currency", string(key)).
			Int64("round_id", round.RoundID).
			Msg("dropped out-of-order round")
	}
	r.ack(raw)
}

func (r *FeedRunner) handleDebtRatio(raw RawEvent) {
	ratio, ts, err := ParseDebtRatio(raw.Data)
	if err != nil {
		r.metrics.ParseErrors.WithLabelValues(raw.Subject).Inc()
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed debt ratio")
		r.ack(raw)
		return
	}
	r.cache.UpdateDebtRatio(ratio, ts)
	r.metrics.RateUpdates.WithLabelValues("debt_ratio").Inc()
	r.ack(raw)
}

func (r *FeedRunner) ack(raw RawEvent) {
	if raw.AckFunc == nil {
		return
	}
	if err := raw.AckFunc(); err != nil {
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("ack failed")
	}
}
