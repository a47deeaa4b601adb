package memory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/easeaico/eva-client/internal/api"
	"github.com/easeaico/eva-client/internal/store"
)

// ErrSyncIncomplete is returned when some memories could not be pushed.
var ErrSyncIncomplete = errors.New("sync incomplete")

// SyncResult counts what one sync pass did.
type SyncResult struct {
	Pushed  int
	Failed  int
	Deleted int
	Pulled  int
}

// Sync reconciles the local store with the backend:
// queued deletions are flushed, unsynced memories are pushed and the remote
// list is merged back. Only memories the backend accepted are marked synced.
// Local rows with unpushed edits are never overwritten by the pull.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	if s.remote == nil {
		return result, errors.New("no backend configured")
	}
	if err := s.ensureAuth(ctx); err != nil {
		return result, err
	}

	deleted, pending, err := s.flushDeletions(ctx)
	if err != nil {
		return result, err
	}
	result.Deleted = deleted

	pushed, failed, err := s.push(ctx)
	if err != nil {
		return result, err
	}
	result.Pushed, result.Failed = pushed, failed

	pulled, err := s.pull(ctx, pending)
	result.Pulled = pulled
	if err != nil {
		return result, err
	}

	s.logger.Info("memory sync finished",
		zap.Int("pushed", result.Pushed),
		zap.Int("failed", result.Failed),
		zap.Int("deleted", result.Deleted),
		zap.Int("pulled", result.Pulled))

	if result.Failed > 0 {
		return result, fmt.Errorf("%w: %d of %d memories failed to upload", ErrSyncIncomplete, result.Failed, result.Failed+result.Pushed)
	}
	return result, nil
}

// flushDeletions retries owed remote deletes. It returns how many succeeded
// and the set still outstanding.
func (s *Service) flushDeletions(ctx context.Context) (int, map[string]bool, error) {
	ids, err := s.store.PendingDeletions(ctx)
	if err != nil {
		return 0, nil, err
	}

	outstanding := make(map[string]bool)
	deleted := 0
	for _, id := range ids {
		err := s.remote.DeleteMemory(ctx, id)
		if err != nil && !isNotFound(err) {
			s.logger.Warn("remote delete failed", zap.String("id", id), zap.Error(err))
			outstanding[id] = true
			continue
		}
		if err := s.store.ClearDeletion(ctx, id); err != nil {
			return deleted, nil, err
		}
		deleted++
	}
	return deleted, outstanding, nil
}

func (s *Service) push(ctx context.Context) (int, int, error) {
	unsynced, err := s.store.UnsyncedMemories(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(unsynced) == 0 {
		s.logger.Debug("no memories to sync")
		return 0, 0, nil
	}

	var pushed, failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for _, m := range unsynced {
		g.Go(func() error {
			if _, err := s.remote.CreateMemory(ctx, m); err != nil {
				s.logger.Error("failed to sync memory", zap.String("id", m.ID), zap.Error(err))
				failed.Add(1)
				return nil
			}
			marked, err := s.store.MarkMemorySynced(ctx, m.ID, m.Timestamp)
			if err != nil {
				s.logger.Error("failed to mark memory synced", zap.String("id", m.ID), zap.Error(err))
				failed.Add(1)
				return nil
			}
			if !marked {
				// Edited or deleted while uploading; the newer version goes next sync.
				s.logger.Debug("memory changed during push", zap.String("id", m.ID))
			}
			pushed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(pushed.Load()), int(failed.Load()), nil
}

// pull merges the backend's memories into the store, skipping ids whose
// deletion is still owed.
func (s *Service) pull(ctx context.Context, skip map[string]bool) (int, error) {
	remote, err := s.remote.ListMemories(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch memories: %w", err)
	}

	pulled := 0
	for _, m := range remote {
		if m.ID == "" || skip[m.ID] {
			continue
		}
		if m.Timestamp == 0 {
			m.Timestamp = s.now()
		}
		wrote, err := s.store.MergeRemoteMemory(ctx, m)
		if err != nil {
			return pulled, err
		}
		if wrote {
			pulled++
		}
	}
	return pulled, nil
}

// Cleanup asks the backend to drop memories older than days, removes the
// synced local copies past the same cutoff and pulls what remains. It returns
// how many local memories were removed.
func (s *Service) Cleanup(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("days must be positive, got %d", days)
	}
	if s.remote == nil {
		return 0, errors.New("no backend configured")
	}
	if err := s.ensureAuth(ctx); err != nil {
		return 0, err
	}
	if err := s.remote.CleanupMemories(ctx, days); err != nil {
		return 0, fmt.Errorf("failed to clean up memories: %w", err)
	}

	cutoff := s.now() - (time.Duration(days) * 24 * time.Hour).Milliseconds()
	all, err := s.store.ListMemories(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range all {
		if !m.Synced || m.Timestamp >= cutoff {
			continue
		}
		if err := s.store.DeleteMemory(ctx, m.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return removed, err
		}
		removed++
	}

	if _, err := s.pull(ctx, nil); err != nil {
		return removed, err
	}
	return removed, nil
}

func isNotFound(err error) bool {
	var apiErr *api.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
