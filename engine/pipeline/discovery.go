// Package pipeline wires the stage packages into the scheduled jobs:
// discovery, correlation and delivery, plus the item matcher.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/leadsignal/engine/domain"
	"github.com/WessleyAI/leadsignal/engine/embedding"
	"github.com/WessleyAI/leadsignal/engine/fetcher"
	"github.com/WessleyAI/leadsignal/pkg/fn"
	"github.com/WessleyAI/leadsignal/pkg/metrics"
)

// SourceStore lists the sources to poll.
type SourceStore interface {
	ActiveSources(ctx context.Context) ([]domain.Source, error)
}

// Fetcher fetches every source through the shared gate.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []domain.Source) fetcher.Report
}

// SeenSet remembers item IDs already processed per source.
type SeenSet interface {
	Unseen(ctx context.Context, source string, ids []string) ([]string, error)
	Mark(ctx context.Context, source string, ids []string) error
}

// BatchEmbedder embeds a batch, one result per input.
type BatchEmbedder interface {
	Generate(ctx context.Context, inputs []embedding.Input) embedding.Batch
}

// ItemStore persists discovered items.
type ItemStore interface {
	SaveItems(ctx context.Context, items []domain.DiscoveredItem) (int, error)
}

// Mirror is a secondary vector index. Items without a vector are skipped.
type Mirror interface {
	Upsert(ctx context.Context, items []domain.DiscoveredItem) (int, error)
}

// DiscoveryDeps holds the collaborators of the discovery job. Seen and
// Mirror are optional.
type DiscoveryDeps struct {
	Sources  SourceStore
	Fetcher  Fetcher
	Seen     SeenSet
	Embedder BatchEmbedder
	Items    ItemStore
	Mirror   Mirror
	Logger   *slog.Logger
}

// DiscoveryReport counts a discovery run per stage.
type DiscoveryReport struct {
	Sources      int           `json:"sources"`
	SourceErrors []string      `json:"source_errors,omitempty"`
	Fetched      int           `json:"fetched"`
	Duplicates   int           `json:"duplicates"`
	Invalid      int           `json:"invalid"`
	Embedded     int           `json:"embedded"`
	EmbedFailed  int           `json:"embed_failed"`
	Saved        int           `json:"saved"`
	Mirrored     int           `json:"mirrored"`
	Duration     time.Duration `json:"duration"`
}

// Discovery runs fetch, dedup, embed and save over all active sources.
type Discovery struct {
	deps DiscoveryDeps
}

// NewDiscovery creates a discovery job.
func NewDiscovery(deps DiscoveryDeps) *Discovery {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Discovery{deps: deps}
}

// Run executes one discovery pass. Per-source and per-item failures are
// counted in the report; an error is returned only when the run could not
// proceed at all: sources unavailable, store down or the job cancelled.
func (d *Discovery) Run(ctx context.Context) (DiscoveryReport, error) {
	start := time.Now()
	defer metrics.ObserveSince("discover", start)

	var rep DiscoveryReport
	log := d.deps.Logger

	pipeline := fn.Then(
		fn.TracedStage("discover.sources", d.loadSources(&rep)),
		fn.Then(
			fn.TracedStage("discover.fetch", d.fetch(&rep)),
			fn.Then(
				fn.TracedStage("discover.dedup", d.dedup(&rep)),
				fn.Then(
					fn.TracedStage("discover.embed", d.embed(&rep)),
					fn.TracedStage("discover.save", d.save(&rep)),
				),
			),
		),
	)

	log.Info("discovery started")
	_, err := pipeline(ctx, struct{}{}).Unwrap()
	rep.Duration = time.Since(start)
	if err != nil {
		log.Error("discovery failed", "err", err, "fetched", rep.Fetched, "saved", rep.Saved)
		return rep, err
	}
	log.Info("discovery complete",
		"sources", rep.Sources,
		"source_errors", len(rep.SourceErrors),
		"fetched", rep.Fetched,
		"duplicates", rep.Duplicates,
		"embedded", rep.Embedded,
		"embed_failed", rep.EmbedFailed,
		"saved", rep.Saved,
		"mirrored", rep.Mirrored,
		"duration", rep.Duration,
	)
	return rep, nil
}

func (d *Discovery) loadSources(rep *DiscoveryReport) fn.Stage[struct{}, []domain.Source] {
	return func(ctx context.Context, _ struct{}) fn.Result[[]domain.Source] {
		sources, err := d.deps.Sources.ActiveSources(ctx)
		if err != nil {
			return fn.Err[[]domain.Source](fmt.Errorf("load sources: %w", err))
		}
		rep.Sources = len(sources)
		return fn.Ok(sources)
	}
}

func (d *Discovery) fetch(rep *DiscoveryReport) fn.Stage[[]domain.Source, []domain.DiscoveredItem] {
	return func(ctx context.Context, sources []domain.Source) fn.Result[[]domain.DiscoveredItem] {
		fr := d.deps.Fetcher.FetchAll(ctx, sources)
		for _, e := range fr.Errors {
			rep.SourceErrors = append(rep.SourceErrors, e.Error())
		}
		rep.Fetched = fr.Total
		if err := ctx.Err(); err != nil {
			return fn.Err[[]domain.DiscoveredItem](err)
		}
		return fn.Ok(fr.Items())
	}
}

// dedup drops items the seen set already holds. A seen-set failure lets
// every item through; the store ignores IDs it already has.
func (d *Discovery) dedup(rep *DiscoveryReport) fn.Stage[[]domain.DiscoveredItem, []domain.DiscoveredItem] {
	return func(ctx context.Context, items []domain.DiscoveredItem) fn.Result[[]domain.DiscoveredItem] {
		valid := fn.Filter(items, func(it domain.DiscoveredItem) bool {
			if err := domain.ValidateItem(it); err != nil {
				d.deps.Logger.Warn("item dropped", "item_id", it.ID, "source", it.SourceID, "err", err)
				return false
			}
			return true
		})
		rep.Invalid = len(items) - len(valid)
		if d.deps.Seen == nil {
			return fn.Ok(valid)
		}

		keep := make(map[string]bool, len(valid))
		for _, source := range sourceOrder(valid) {
			ids := idsFor(valid, source)
			unseen, err := d.deps.Seen.Unseen(ctx, source, ids)
			if err != nil {
				d.deps.Logger.Warn("seen set unavailable", "source", source, "err", err)
				unseen = ids
			}
			for _, id := range unseen {
				keep[id] = true
			}
		}
		out := fn.Filter(valid, func(it domain.DiscoveredItem) bool { return keep[it.ID] })
		out = fn.UniqueBy(out, func(it domain.DiscoveredItem) string { return it.ID })
		rep.Duplicates = len(valid) - len(out)
		metrics.StageUnits.WithLabelValues("deduplicated", "ok").Add(float64(rep.Duplicates))
		return fn.Ok(out)
	}
}

// embed attaches a vector to every item it can. Items whose embedding failed
// continue without one.
func (d *Discovery) embed(rep *DiscoveryReport) fn.Stage[[]domain.DiscoveredItem, []domain.DiscoveredItem] {
	return func(ctx context.Context, items []domain.DiscoveredItem) fn.Result[[]domain.DiscoveredItem] {
		if len(items) == 0 {
			return fn.Ok(items)
		}
		inputs := fn.Map(items, func(it domain.DiscoveredItem) embedding.Input {
			return embedding.Input{Title: it.Title, Body: it.Body}
		})
		batch := d.deps.Embedder.Generate(ctx, inputs)
		for i := range items {
			if vec, ok := batch.Vector(i); ok {
				items[i].Embedding = vec
				continue
			}
			_, err := batch.Results[i].Unwrap()
			d.deps.Logger.Warn("item stored without embedding", "item_id", items[i].ID, "source", items[i].SourceID, "err", err)
		}
		rep.Embedded = batch.Succeeded
		rep.EmbedFailed = batch.Failed
		if err := ctx.Err(); err != nil {
			return fn.Err[[]domain.DiscoveredItem](err)
		}
		return fn.Ok(items)
	}
}

// save writes the items, mirrors the vectors and marks the embedded items seen.
func (d *Discovery) save(rep *DiscoveryReport) fn.Stage[[]domain.DiscoveredItem, []domain.DiscoveredItem] {
	return func(ctx context.Context, items []domain.DiscoveredItem) fn.Result[[]domain.DiscoveredItem] {
		if len(items) == 0 {
			return fn.Ok(items)
		}
		n, err := d.deps.Items.SaveItems(ctx, items)
		if err != nil {
			metrics.StageUnits.WithLabelValues("saved", domain.Kind(err)).Inc()
			return fn.Err[[]domain.DiscoveredItem](fmt.Errorf("save items: %w", err))
		}
		metrics.StageUnits.WithLabelValues("saved", "ok").Add(float64(n))
		rep.Saved = n

		if d.deps.Mirror != nil {
			m, err := d.deps.Mirror.Upsert(ctx, items)
			if err != nil {
				d.deps.Logger.Warn("mirror upsert failed", "items", len(items), "err", err)
			}
			rep.Mirrored = m
		}

		// Items without a vector stay unseen so the next run embeds them again.
		embedded := fn.Filter(items, func(it domain.DiscoveredItem) bool { return len(it.Embedding) > 0 })
		if d.deps.Seen != nil {
			for _, source := range sourceOrder(embedded) {
				if err := d.deps.Seen.Mark(ctx, source, idsFor(embedded, source)); err != nil {
					d.deps.Logger.Warn("mark seen failed", "source", source, "err", err)
				}
			}
		}
		return fn.Ok(items)
	}
}

// sourceOrder returns the distinct source IDs in first-seen order.
func sourceOrder(items []domain.DiscoveredItem) []string {
	uniq := fn.UniqueBy(items, func(it domain.DiscoveredItem) string { return it.SourceID })
	return fn.Map(uniq, func(it domain.DiscoveredItem) string { return it.SourceID })
}

func idsFor(items []domain.DiscoveredItem, source string) []string {
	group := fn.GroupBy(items, func(it domain.DiscoveredItem) string { return it.SourceID })[source]
	return fn.Map(group, func(it domain.DiscoveredItem) string { return it.ID })
}
