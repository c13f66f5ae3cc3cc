package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schaermu/datapages/internal/config"
	"github.com/schaermu/datapages/internal/document"
	"github.com/schaermu/datapages/internal/fetch"
	"github.com/schaermu/datapages/internal/publish"
	"github.com/schaermu/datapages/internal/store"
)

// Options adjusts what a run is allowed to change
type Options struct {
	// DryRun fetches and compares but writes and publishes nothing.
	DryRun bool
	// NoPublish persists changes locally but skips the publisher.
	NoPublish bool
}

// Engine orchestrates the sync process
type Engine struct {
	cfg       *config.Config
	fetcher   fetch.Fetcher
	store     *store.Store
	publisher publish.Publisher
	logger    *slog.Logger
	opts      Options
}

// NewEngine creates a new sync engine. publisher may be nil when the run
// does not publish.
func NewEngine(cfg *config.Config, fetcher fetch.Fetcher, st *store.Store, publisher publish.Publisher, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		store:     st,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
	}
}

// Run processes every configured source in order and publishes the store
// once if any of them changed.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.logger.Info("starting sync",
		"sources", len(e.cfg.Sources),
		"store", e.store.Root(),
		"dry_run", e.opts.DryRun)

	result := &Result{Sources: make([]SourceResult, 0, len(e.cfg.Sources))}
	var fetchErrs []error

	for _, src := range e.cfg.Sources {
		sr, err := e.syncSource(ctx, src)
		result.Sources = append(result.Sources, sr)
		if err != nil {
			var ferr *fetch.Error
			if e.cfg.Sync.ContinueOnError && errors.As(err, &ferr) {
				e.logger.Error("fetch failed, continuing with remaining sources", "source", src.Name, "error", err)
				fetchErrs = append(fetchErrs, err)
				continue
			}
			return result, err
		}
		if sr.Changed() {
			result.Changed = true
		}
	}

	if !result.Changed {
		e.logger.Info("no changes detected, skipping deployment")
		return result, errors.Join(fetchErrs...)
	}

	changed := result.ChangedSources()
	switch {
	case e.opts.DryRun:
		e.logger.Info("[dry-run] would publish store", "root", e.store.Root(), "changed", changed)
		return result, errors.Join(fetchErrs...)
	case e.opts.NoPublish || e.publisher == nil:
		e.logger.Info("changes saved, publishing disabled", "changed", changed)
		return result, errors.Join(fetchErrs...)
	}

	e.logger.Info("publishing store", "root", e.store.Root(), "changed", changed)
	if err := e.publisher.Publish(ctx, e.store.Root()); err != nil {
		return result, errors.Join(append(fetchErrs, err)...)
	}
	result.Published = true

	e.logger.Info("sync completed successfully")
	return result, errors.Join(fetchErrs...)
}

// syncSource fetches one source and replaces its stored copy when the
// content changed.
func (e *Engine) syncSource(ctx context.Context, src config.SourceConfig) (SourceResult, error) {
	sr := SourceResult{Name: src.Name, Path: src.Path, Outcome: OutcomeFailed}
	log := e.logger.With("source", src.Name, "path", e.store.Path(src.Path))

	log.Debug("fetching source", "url", src.URL)
	current, err := e.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return sr, fmt.Errorf("source %s: %w", src.Name, err)
	}

	previous := e.store.Load(src.Path)
	if previous.Status == store.StatusCorrupt {
		log.Warn("stored file is unreadable, treating as new", "error", previous.Err)
	}

	changed, sum, err := compare(previous, current)
	if err != nil {
		return sr, fmt.Errorf("source %s: failed to fingerprint: %w", src.Name, err)
	}
	sr.Fingerprint = sum

	if !changed {
		sr.Outcome = OutcomeUnchanged
		log.Info("no change", "fingerprint", sum.Short())
		return sr, nil
	}

	if previous.Exists() {
		sr.Outcome = OutcomeUpdated
	} else {
		sr.Outcome = OutcomeCreated
	}

	if e.opts.DryRun {
		log.Info("[dry-run] would write", "outcome", sr.Outcome, "fingerprint", sum.Short())
		return sr, nil
	}

	if err := e.store.Save(src.Path, current); err != nil {
		sr.Outcome = OutcomeFailed
		return sr, fmt.Errorf("source %s: %w", src.Name, err)
	}

	if sr.Outcome == OutcomeCreated {
		log.Info("created", "previous", previous.Status, "fingerprint", sum.Short())
		return sr, nil
	}

	field := src.VersionField
	if field == "" {
		field = "time"
	}
	log.Info("updated",
		slog.String("old_"+field, document.Describe(previous.Doc, field)),
		slog.String("new_"+field, document.Describe(current, field)),
		slog.String("fingerprint", sum.Short()))
	return sr, nil
}
