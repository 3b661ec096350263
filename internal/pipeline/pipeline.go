// Package pipeline drives the event pipeline: poll the monitoring source,
// drop known or irrelevant incidents, enrich the survivors with an AI root
// cause, then fan the result out to the acknowledgement write-back, the
// chat notification, and the realtime broadcast.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alertdeck/alertdeck/internal/cache"
	"github.com/alertdeck/alertdeck/internal/config"
	"github.com/alertdeck/alertdeck/internal/metrics"
	"github.com/alertdeck/alertdeck/internal/models"
	"github.com/alertdeck/alertdeck/internal/repo"
)

// ackPrefix marks acknowledgement comments written by this pipeline; it is
// also how annotations from a previous run are recognised and rehydrated.
const (
	ackPrefix       = "AI:"
	ackCmdSeparator = "| CMD:"
)

// EventSource fetches the currently open problems from the monitoring source.
type EventSource interface {
	OpenProblems(ctx context.Context, limit int) ([]repo.ProblemEvent, error)
}

// AckWriter pushes the enrichment back to the monitoring source.
type AckWriter interface {
	Acknowledge(ctx context.Context, eventID, message string) error
}

// Enricher produces the AI annotation for one incident.
type Enricher interface {
	Enrich(ctx context.Context, inc models.Incident) (models.EnrichmentResult, error)
}

// Notifier delivers one chat message per enriched incident.
type Notifier interface {
	Notify(ctx context.Context, inc models.Incident, res models.EnrichmentResult) error
}

// Broadcaster pushes enriched incidents to connected dashboard sessions.
type Broadcaster interface {
	BroadcastIncident(inc models.Incident, res models.EnrichmentResult)
}

// Pipeline is the top-level orchestrator.
type Pipeline struct {
	logger      *slog.Logger
	cfg         config.PipelineConfig
	source      EventSource
	acks        AckWriter
	enricher    Enricher
	notifier    Notifier
	broadcaster Broadcaster
	store       *cache.Store
	filter      *Filter
	now         func() time.Time

	// wg tracks in-flight cycle work so shutdown can drain it.
	wg sync.WaitGroup
}

// NewPipeline wires the orchestrator. notifier and broadcaster may be nil
// (the corresponding sink is then skipped); everything else is required.
func NewPipeline(
	logger *slog.Logger,
	cfg config.PipelineConfig,
	source EventSource,
	acks AckWriter,
	enricher Enricher,
	notifier Notifier,
	broadcaster Broadcaster,
	store *cache.Store,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:      logger,
		cfg:         cfg,
		source:      source,
		acks:        acks,
		enricher:    enricher,
		notifier:    notifier,
		broadcaster: broadcaster,
		store:       store,
		filter:      NewFilter(store, cfg.FailureCooldown),
		now:         time.Now,
	}
}

// Run executes poll cycles until the context is cancelled. Cycles are not
// serialized on completion: the ticker fires regardless of whether the
// previous cycle's enrichments have finished; the store's state machine
// prevents duplicate work.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// Wait blocks until all in-flight incident work has drained. Call after
// the Run context is cancelled.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// RunCycle performs one fetch/filter/enrich/deliver pass. The fetch and
// filtering run synchronously so the next cycle observes consistent state;
// per-incident enrichment and delivery fan out on a bounded group that is
// awaited off the polling path.
func (p *Pipeline) RunCycle(ctx context.Context) {
	events, err := p.source.OpenProblems(ctx, p.cfg.BatchLimit)
	if err != nil {
		p.logger.Warn("upstream fetch failed, skipping cycle", slog.Any("error", err))
		metrics.ObserveCycle(metrics.OutcomeError)
		return
	}

	limit := p.cfg.EnrichConcurrency
	if limit <= 0 {
		limit = 1
	}
	group := new(errgroup.Group)
	group.SetLimit(limit)

	started := 0
	for _, ev := range dedupeBatch(events) {
		inc := toIncident(ev, p.now())
		p.store.Track(inc)

		if p.rehydrateFromAck(inc, ev.Acknowledgements) {
			continue
		}

		process, reason := p.filter.Decide(inc.ID)
		if !process {
			p.logger.Debug("skipping incident",
				slog.String("incident", inc.ID), slog.String("reason", reason))
			continue
		}

		// The enriching transition is the authoritative guard: even with
		// overlapping cycles, only one caller wins it per identity.
		if !p.store.BeginEnrichment(inc.ID) {
			continue
		}

		started++
		incident := inc
		group.Go(func() error {
			p.process(ctx, incident)
			return nil
		})
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = group.Wait()
		metrics.ObserveCycle(metrics.OutcomeSuccess)
		if started > 0 {
			p.logger.Debug("cycle complete", slog.Int("enriched", started))
		}
	}()
}

// process enriches one incident and drives the three sinks. A failure in
// any single step never propagates past this incident.
func (p *Pipeline) process(ctx context.Context, inc models.Incident) {
	start := p.now()
	res, err := p.enricher.Enrich(ctx, inc)
	if err != nil {
		p.store.MarkFailed(inc.ID, p.now())
		metrics.ObserveEnrichment(p.now().Sub(start), metrics.OutcomeError)
		p.logger.Warn("enrichment failed",
			slog.String("incident", inc.ID), slog.Any("error", err))
		return
	}
	metrics.ObserveEnrichment(p.now().Sub(start), metrics.OutcomeSuccess)

	// The cache write must happen before the broadcast so no session can
	// observe a push for state it cannot query.
	p.store.Put(inc.ID, inc, res)

	p.logger.Info("incident enriched",
		slog.String("incident", inc.ID),
		slog.String("host", inc.Host),
		slog.String("root_cause", res.RootCause),
		slog.Int("tokens", res.TokensUsed))

	p.deliver(ctx, inc, res)
	p.store.SetState(inc.ID, models.StateDelivered)
}

// deliver runs the acknowledgement write-back, chat notification, and
// realtime broadcast concurrently. Sink failures are counted and logged
// but never block the other sinks or the delivered transition.
func (p *Pipeline) deliver(ctx context.Context, inc models.Incident, res models.EnrichmentResult) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sctx, cancel := context.WithTimeout(ctx, p.cfg.SinkTimeout)
		defer cancel()
		if err := p.acks.Acknowledge(sctx, inc.ID, AckMessage(res)); err != nil {
			metrics.SinkFailure(metrics.SinkAck)
			p.logger.Warn("acknowledgement write-back failed",
				slog.String("incident", inc.ID), slog.Any("error", err))
		}
	}()

	if p.notifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, p.cfg.SinkTimeout)
			defer cancel()
			if err := p.notifier.Notify(sctx, inc, res); err != nil {
				metrics.SinkFailure(metrics.SinkNotify)
				p.logger.Warn("chat notification failed",
					slog.String("incident", inc.ID), slog.Any("error", err))
			}
		}()
	}

	if p.broadcaster != nil {
		p.broadcaster.BroadcastIncident(inc, res)
	}

	wg.Wait()
}

// rehydrateFromAck recovers an annotation written by a previous run (or
// another operator using the same format) into the cache, skipping a
// fresh AI call. Only incidents still in the new state are rehydrated.
func (p *Pipeline) rehydrateFromAck(inc models.Incident, acks []string) bool {
	entry, ok := p.store.Get(inc.ID)
	if !ok || entry.State != models.StateNew {
		return false
	}

	res, ok := parseAckEnrichment(acks)
	if !ok {
		return false
	}

	p.store.Put(inc.ID, inc, res)
	p.store.SetState(inc.ID, models.StateDelivered)
	p.logger.Info("rehydrated incident from upstream acknowledgement",
		slog.String("incident", inc.ID))
	return true
}

// AckMessage renders the acknowledgement comment pushed to the monitoring
// source. parseAckEnrichment reads the same format back.
func AckMessage(res models.EnrichmentResult) string {
	cmd := res.ActionCommand
	if cmd == "" {
		cmd = "N/A"
	}
	return fmt.Sprintf("%s %s %s %s", ackPrefix, res.RootCause, ackCmdSeparator, cmd)
}

func parseAckEnrichment(acks []string) (models.EnrichmentResult, bool) {
	for _, msg := range acks {
		if !strings.HasPrefix(msg, ackPrefix) {
			continue
		}
		body := strings.TrimSpace(strings.TrimPrefix(msg, ackPrefix))
		rootCause := body
		command := ""
		if idx := strings.Index(body, ackCmdSeparator); idx >= 0 {
			rootCause = strings.TrimSpace(body[:idx])
			command = strings.TrimSpace(body[idx+len(ackCmdSeparator):])
		}
		if command == "N/A" {
			command = ""
		}
		if rootCause == "" {
			continue
		}
		return models.EnrichmentResult{
			RootCause:     rootCause,
			ActionCommand: command,
			ProducedAt:    time.Now().UTC(),
		}, true
	}
	return models.EnrichmentResult{}, false
}

// dedupeBatch collapses duplicate identities within one fetch: the last
// event wins for mutable fields, original ordering is kept.
func dedupeBatch(events []repo.ProblemEvent) []repo.ProblemEvent {
	if len(events) < 2 {
		return events
	}
	index := make(map[string]int, len(events))
	out := events[:0]
	for _, ev := range events {
		if i, seen := index[ev.EventID]; seen {
			out[i] = ev
			continue
		}
		index[ev.EventID] = len(out)
		out = append(out, ev)
	}
	return out
}

func toIncident(ev repo.ProblemEvent, now time.Time) models.Incident {
	firstSeen := now
	if !ev.LastChange.IsZero() {
		firstSeen = ev.LastChange
	}
	return models.Incident{
		ID:          ev.EventID,
		Host:        ev.Host,
		Problem:     ev.Problem,
		Severity:    ev.Severity,
		Tags:        ev.Tags,
		FirstSeenAt: firstSeen,
	}
}
