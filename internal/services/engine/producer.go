package engine

import (
	"context"
	"sort"

	logx "remindbot/pkg/logx"
)

// produceCycle reconciles the in-memory queue against storage: load every
// active reminder due before now+lookahead, then — under the lock — evict
// cached ids missing from the loaded set, insert new ones, and refresh
// surviving snapshots in place.
//
// The cycle is idempotent: with no store change between two runs the queue
// and indexes come out identical.
func (s *Service) produceCycle(ctx context.Context) {
	s.mu.Lock()
	lookahead := s.cfg.Lookahead
	s.mu.Unlock()

	horizon := s.now().Add(lookahead)
	loaded, err := s.store.LoadDueBefore(ctx, horizon)
	if err != nil {
		// Abort the cycle; the next tick retries with a fresh load.
		s.log.Error("reminder load failed", logx.Err(err), logx.Time("horizon", horizon))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.producerCycles++

	loadedSet := make(map[int64]struct{}, len(loaded))
	for _, rem := range loaded {
		loadedSet[rem.ID] = struct{}{}
	}

	// Evict cached reminders that are no longer due (archived, rescheduled
	// past the horizon, or deleted).
	removed := 0
	for id, rem := range s.byID {
		if _, ok := loadedSet[id]; ok {
			continue
		}
		delete(s.byID, id)
		s.dropOwnerIndex(rem.OwnerID, id)
		removed++
	}

	// Insert new ids; refresh surviving snapshots with the loaded state.
	added, refreshed := 0, 0
	for _, rem := range loaded {
		if _, busy := s.inflight[rem.ID]; busy {
			// Popped by a concurrent consumer cycle; the store still holds
			// the pre-advance FireAt, so caching it would redeliver.
			continue
		}
		if _, ok := s.byID[rem.ID]; ok {
			refreshed++
		} else {
			added++
		}
		s.byID[rem.ID] = rem
		s.addOwnerIndex(rem.OwnerID, rem.ID)
	}

	s.rebuildQueueLocked()

	if added == 0 && removed == 0 {
		s.log.Debug("producer cycle: no change", logx.Int("cached", len(s.queue)))
		return
	}
	s.log.Info("producer cycle",
		logx.Int("added", added), logx.Int("removed", removed),
		logx.Int("refreshed", refreshed), logx.Int("cached", len(s.queue)))
}

func (s *Service) rebuildQueueLocked() {
	q := s.queue[:0]
	for _, rem := range s.byID {
		q = append(q, rem)
	}
	sort.Slice(q, func(i, j int) bool {
		if !q[i].FireAt.Equal(q[j].FireAt) {
			return q[i].FireAt.Before(q[j].FireAt)
		}
		return q[i].ID < q[j].ID
	})
	s.queue = q
}

func (s *Service) addOwnerIndex(ownerID, id int64) {
	set := s.byOwner[ownerID]
	if set == nil {
		set = map[int64]struct{}{}
		s.byOwner[ownerID] = set
	}
	set[id] = struct{}{}
}

func (s *Service) dropOwnerIndex(ownerID, id int64) {
	set := s.byOwner[ownerID]
	if set == nil {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.byOwner, ownerID)
	}
}

// CachedByOwner returns the cached reminder ids of one owner, for
// operational introspection.
func (s *Service) CachedByOwner(ownerID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.byOwner[ownerID]
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
