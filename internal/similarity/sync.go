package similarity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loom/internal/graph"
	apperrors "loom/pkg/errors"
	"loom/pkg/logger"
)

// clearer is implemented by indexes that can drop all entries at once.
type clearer interface {
	Clear(ctx context.Context) error
}

// Syncer mirrors the trunk node set into a similarity index. It runs after
// merges, never against a writer's sandbox.
type Syncer struct {
	store  *graph.Store
	index  Index
	limit  int
	logger *zap.Logger
}

// NewSyncer wires a trunk store to an index. limit bounds the embedding
// fan-out during full reindexes.
func NewSyncer(store *graph.Store, index Index, limit int) *Syncer {
	if limit < 1 {
		limit = 1
	}
	return &Syncer{
		store:  store,
		index:  index,
		limit:  limit,
		logger: logger.Named("similarity"),
	}
}

// Apply reconciles the index entries for the given changed repository paths:
// nodes present on trunk are upserted, vanished ones deleted. A failing entry
// does not stop the rest; the joined errors come back to the caller.
func (s *Syncer) Apply(ctx context.Context, paths []string) error {
	var errs []error
	for _, path := range paths {
		name, ok := graph.NodeNameFromPath(path)
		if !ok {
			continue
		}

		content, err := s.store.Read(name)
		switch {
		case err == nil:
			if err := s.index.Upsert(ctx, name, content); err != nil {
				errs = append(errs, fmt.Errorf("upsert %q: %w", name, err))
			}
		case apperrors.IsNotFound(err):
			if err := s.index.Delete(ctx, name); err != nil {
				errs = append(errs, fmt.Errorf("delete %q: %w", name, err))
			}
		default:
			errs = append(errs, fmt.Errorf("read %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ReindexAll rebuilds the index from scratch: clears it when the backend
// supports that, then re-embeds every trunk node. Returns the number of
// nodes indexed.
func (s *Syncer) ReindexAll(ctx context.Context) (int, error) {
	if c, ok := s.index.(clearer); ok {
		if err := c.Clear(ctx); err != nil {
			return 0, err
		}
	}

	names, err := s.store.List()
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, name := range names {
		name := name // per-iteration copy: required under go directive < 1.22
		g.Go(func() error {
			content, err := s.store.Read(name)
			if err != nil {
				if apperrors.IsNotFound(err) {
					return nil
				}
				return err
			}
			return s.index.Upsert(ctx, name, content)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	s.logger.Info("reindexed similarity index", zap.Int("nodes", len(names)))
	return len(names), nil
}
