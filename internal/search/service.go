package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marginalia/api/internal/outline"
)

const (
	SourceIndex = "index"
	SourceLocal = "local"
)

// Service is the facade that queries the backend when it is healthy and
// otherwise matches the workspace's groups in process.
type Service struct {
	backend Backend
	logger  *zap.Logger
	pending sync.WaitGroup
}

// NewService creates a search service. backend may be nil when no index is
// configured.
func NewService(backend Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, logger: logger.Named("search")}
}

func (s *Service) available() bool {
	return s.backend != nil && s.backend.Healthy()
}

// Search answers q. ws is the concept's current workspace, used by the
// in-process fallback and to drop index hits for groups that no longer exist.
func (s *Service) Search(q Query, ws outline.Workspace) Response {
	records := RecordsFor(q.ConceptID, ws)
	if s.available() {
		hits, total, err := s.backend.Search(q)
		if err == nil {
			return Response{Groups: live(hits, ws), Total: total, Query: q.Text, Source: SourceIndex}
		}
		s.logger.Warn("index search failed, falling back to local match", zap.String("concept_id", q.ConceptID), zap.Error(err))
	}
	hits := MatchGroups(records, q.Text, q.Limit)
	return Response{Groups: hits, Total: len(hits), Query: q.Text, Source: SourceLocal}
}

func live(hits []Hit, ws outline.Workspace) []Hit {
	known := make(map[string]bool, len(ws.Groups))
	for _, g := range ws.Groups {
		known[g.ID] = true
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if known[h.GroupID] {
			out = append(out, h)
		}
	}
	return out
}

// SyncConcept brings the index in line with ws in the background. Failures
// are logged and never reach the caller.
func (s *Service) SyncConcept(conceptID string, ws outline.Workspace) {
	if !s.available() {
		return
	}
	records := RecordsFor(conceptID, ws)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.syncRecords(conceptID, records); err != nil {
			s.logger.Warn("sync concept groups", zap.String("concept_id", conceptID), zap.Error(err))
		}
	}()
}

// RemoveConcept drops every indexed group of a concept in the background.
func (s *Service) RemoveConcept(conceptID string) {
	if !s.available() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.syncRecords(conceptID, nil); err != nil {
			s.logger.Warn("remove concept groups", zap.String("concept_id", conceptID), zap.Error(err))
		}
	}()
}

func (s *Service) syncRecords(conceptID string, records []GroupRecord) error {
	indexed, err := s.backend.ConceptGroupIDs(conceptID)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(records))
	for _, r := range records {
		keep[r.ID] = true
	}
	var stale []string
	for _, id := range indexed {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.backend.DeleteGroups(stale); err != nil {
			return err
		}
	}
	return s.backend.IndexGroups(records)
}

// Wait blocks until background index updates have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// LoadFunc returns the normalized workspace of one concept.
type LoadFunc func(ctx context.Context, conceptID string) (outline.Workspace, error)

// Reindex pushes every listed concept to the backend, a few at a time, and
// returns the number indexed. It stops at the first failure.
func (s *Service) Reindex(ctx context.Context, conceptIDs []string, load LoadFunc) (int, error) {
	if !s.available() {
		return 0, nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	var (
		mu      sync.Mutex
		indexed int
	)
	for _, id := range conceptIDs {
		id := id
		g.Go(func() error {
			ws, err := load(ctx, id)
			if err != nil {
				return err
			}
			if err := s.syncRecords(id, RecordsFor(id, ws)); err != nil {
				return err
			}
			mu.Lock()
			indexed++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return indexed, err
}
