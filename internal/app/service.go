package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"marginalia/api/internal/outline"
	"marginalia/api/internal/search"
	"marginalia/api/internal/snapshot"
	"marginalia/api/internal/store"
)

const maxConceptIDLength = 200

type dataStore interface {
	Ping(context.Context) error
	LoadWorkspace(context.Context, string) ([]byte, error)
	MutateWorkspace(context.Context, string, store.MutateFunc) ([]byte, error)
	SaveWorkspace(context.Context, string, []byte) error
	DeleteConcept(context.Context, string) error
	ListConceptIDs(context.Context) ([]string, error)
}

type workspaceCache interface {
	Get(context.Context, string) (outline.Workspace, bool, error)
	Set(context.Context, string, outline.Workspace) error
	Delete(context.Context, string) error
}

type Service struct {
	store     dataStore
	cache     workspaceCache
	search    *search.Service
	snapshots snapshot.Store
	engine    *outline.Engine
	logger    *zap.Logger
	now       func() time.Time
}

func New(dataStore dataStore, searchService *search.Service, snapshots snapshot.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if searchService == nil {
		searchService = search.NewService(nil, logger)
	}
	return &Service{
		store:     dataStore,
		search:    searchService,
		snapshots: snapshots,
		engine:    outline.NewEngine(),
		logger:    logger.Named("workspace"),
		now:       time.Now,
	}
}

// NewWithCache is New with a read-through workspace cache in front of the store.
func NewWithCache(dataStore dataStore, cache workspaceCache, searchService *search.Service, snapshots snapshot.Store, logger *zap.Logger) *Service {
	service := New(dataStore, searchService, snapshots, logger)
	service.cache = cache
	return service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetWorkspace returns the normalized workspace of a concept. A concept opened
// for the first time gets an empty workspace which is persisted immediately.
func (s *Service) GetWorkspace(ctx context.Context, conceptID string) (outline.Workspace, error) {
	if err := checkConceptID(conceptID); err != nil {
		return outline.Workspace{}, err
	}
	if s.cache != nil {
		ws, ok, err := s.cache.Get(ctx, conceptID)
		switch {
		case err != nil:
			cacheLookups.WithLabelValues(cacheError).Inc()
			s.logger.Warn("workspace cache read failed", zap.String("concept_id", conceptID), zap.Error(err))
		case ok:
			cacheLookups.WithLabelValues(cacheHit).Inc()
			return ws, nil
		default:
			cacheLookups.WithLabelValues(cacheMiss).Inc()
		}
	}

	data, err := s.store.LoadWorkspace(ctx, conceptID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return outline.Workspace{}, fmt.Errorf("load workspace: %w", err)
	}
	if errors.Is(err, store.ErrNotFound) || data == nil {
		ws, err := s.mutate(ctx, conceptID, func(current outline.Workspace) (outline.Workspace, error) {
			return current, nil
		})
		if err != nil {
			return outline.Workspace{}, err
		}
		s.logger.Info("workspace created", zap.String("concept_id", conceptID))
		s.remember(ctx, conceptID, ws)
		return ws, nil
	}

	ws := s.decode(conceptID, data)
	s.remember(ctx, conceptID, ws)
	return ws, nil
}

// ApplyOperation runs one named patch operation inside the store's
// per-concept transaction and returns the resulting workspace.
func (s *Service) ApplyOperation(ctx context.Context, conceptID, name string, payload json.RawMessage) (outline.Workspace, error) {
	if err := checkConceptID(conceptID); err != nil {
		return outline.Workspace{}, err
	}
	op, err := outline.ParseOperation(name, payload)
	if err != nil {
		operationsTotal.WithLabelValues(metricOpName(name), resultRejected).Inc()
		s.logger.Info("operation rejected", zap.String("op", name), zap.String("concept_id", conceptID), zap.Error(err))
		return outline.Workspace{}, err
	}

	started := time.Now()
	ws, err := s.mutate(ctx, conceptID, func(current outline.Workspace) (outline.Workspace, error) {
		return s.engine.Apply(current, op)
	})
	operationDuration.WithLabelValues(op.Name()).Observe(time.Since(started).Seconds())
	if err != nil {
		if isOutlineError(err) {
			operationsTotal.WithLabelValues(op.Name(), resultRejected).Inc()
			s.logger.Info("operation rejected", zap.String("op", op.Name()), zap.String("concept_id", conceptID), zap.Error(err))
		} else {
			operationsTotal.WithLabelValues(op.Name(), resultError).Inc()
			s.logger.Error("operation failed", zap.String("op", op.Name()), zap.String("concept_id", conceptID), zap.Error(err))
		}
		return outline.Workspace{}, err
	}
	operationsTotal.WithLabelValues(op.Name(), resultOK).Inc()
	s.afterWrite(ctx, conceptID, ws)
	return ws, nil
}

// ReplaceWorkspace stores a client-supplied workspace wholesale. Unlike the
// read path it never repairs: the first structural violation is returned.
func (s *Service) ReplaceWorkspace(ctx context.Context, conceptID string, payload json.RawMessage) (outline.Workspace, error) {
	if err := checkConceptID(conceptID); err != nil {
		return outline.Workspace{}, err
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || string(payload) == "null" {
		return outline.Workspace{}, invalidBody("workspace is required")
	}
	if payload[0] != '{' {
		return outline.Workspace{}, invalidBody("workspace must be a JSON object")
	}
	raw, err := outline.DecodeRaw(payload)
	if err != nil {
		return outline.Workspace{}, invalidBody(err.Error())
	}
	ws, err := s.replace(ctx, conceptID, raw)
	if err != nil {
		return outline.Workspace{}, err
	}
	s.logger.Info("workspace replaced", zap.String("concept_id", conceptID), zap.Int("groups", len(ws.Groups)), zap.Int("items", len(ws.Items)))
	return ws, nil
}

// replace validates, normalizes and persists a full replacement.
func (s *Service) replace(ctx context.Context, conceptID string, raw outline.RawWorkspace) (outline.Workspace, error) {
	if err := outline.Validate(raw); err != nil {
		replacementsTotal.WithLabelValues(resultRejected).Inc()
		s.logger.Info("replacement rejected", zap.String("concept_id", conceptID), zap.Error(err))
		return outline.Workspace{}, err
	}
	raw.UpdatedAt = ""
	ws := s.engine.Normalize(raw)
	encoded, err := json.Marshal(ws)
	if err != nil {
		return outline.Workspace{}, fmt.Errorf("encode workspace: %w", err)
	}
	if err := s.store.SaveWorkspace(ctx, conceptID, encoded); err != nil {
		replacementsTotal.WithLabelValues(resultError).Inc()
		s.logger.Error("save workspace failed", zap.String("concept_id", conceptID), zap.Error(err))
		return outline.Workspace{}, fmt.Errorf("save workspace: %w", err)
	}
	replacementsTotal.WithLabelValues(resultOK).Inc()
	s.afterWrite(ctx, conceptID, ws)
	return ws, nil
}

// DeleteConcept discards the concept record together with its cache entry,
// index records and snapshots.
func (s *Service) DeleteConcept(ctx context.Context, conceptID string) error {
	if err := checkConceptID(conceptID); err != nil {
		return err
	}
	if err := s.store.DeleteConcept(ctx, conceptID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Concept not found")
		}
		return fmt.Errorf("delete concept: %w", err)
	}
	s.forget(ctx, conceptID)
	s.search.RemoveConcept(conceptID)
	if s.snapshots != nil {
		if err := s.snapshots.DeleteConcept(ctx, conceptID); err != nil {
			s.logger.Warn("delete concept snapshots failed", zap.String("concept_id", conceptID), zap.Error(err))
		}
	}
	s.logger.Info("concept deleted", zap.String("concept_id", conceptID))
	return nil
}

func (s *Service) SearchGroups(ctx context.Context, conceptID, text string, limit int) (search.Response, error) {
	ws, err := s.GetWorkspace(ctx, conceptID)
	if err != nil {
		return search.Response{}, err
	}
	response := s.search.Search(search.Query{ConceptID: conceptID, Text: strings.TrimSpace(text), Limit: limit}, ws)
	if response.Groups == nil {
		response.Groups = []search.Hit{}
	}
	return response, nil
}

func (s *Service) CreateSnapshot(ctx context.Context, conceptID string) (snapshot.Info, error) {
	if s.snapshots == nil {
		return snapshot.Info{}, snapshotsDisabled()
	}
	ws, err := s.GetWorkspace(ctx, conceptID)
	if err != nil {
		return snapshot.Info{}, err
	}
	encoded, err := json.Marshal(ws)
	if err != nil {
		return snapshot.Info{}, fmt.Errorf("encode workspace: %w", err)
	}
	snap := snapshot.New(conceptID, encoded, s.now())
	if err := s.snapshots.Put(ctx, snap); err != nil {
		s.logger.Error("snapshot failed", zap.String("concept_id", conceptID), zap.Error(err))
		return snapshot.Info{}, fmt.Errorf("put snapshot: %w", err)
	}
	s.logger.Info("snapshot created", zap.String("concept_id", conceptID), zap.String("snapshot_id", snap.ID))
	return snapshot.Info{ID: snap.ID, CreatedAt: snap.CreatedAt}, nil
}

func (s *Service) ListSnapshots(ctx context.Context, conceptID string) ([]snapshot.Info, error) {
	if err := checkConceptID(conceptID); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return nil, snapshotsDisabled()
	}
	infos, err := s.snapshots.List(ctx, conceptID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if infos == nil {
		infos = []snapshot.Info{}
	}
	return infos, nil
}

// RestoreSnapshot replaces the workspace with a stored backup. The backup is
// validated strictly, exactly like a client replacement.
func (s *Service) RestoreSnapshot(ctx context.Context, conceptID, snapshotID string) (outline.Workspace, error) {
	if err := checkConceptID(conceptID); err != nil {
		return outline.Workspace{}, err
	}
	if s.snapshots == nil {
		return outline.Workspace{}, snapshotsDisabled()
	}
	if !snapshot.ValidID(snapshotID) {
		return outline.Workspace{}, notFound("Snapshot not found")
	}
	snap, err := s.snapshots.Get(ctx, conceptID, snapshotID)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return outline.Workspace{}, notFound("Snapshot not found")
		}
		return outline.Workspace{}, fmt.Errorf("get snapshot: %w", err)
	}
	raw, err := outline.DecodeRaw(snap.Workspace)
	if err != nil {
		return outline.Workspace{}, fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	ws, err := s.replace(ctx, conceptID, raw)
	if err != nil {
		return outline.Workspace{}, err
	}
	s.logger.Info("snapshot restored", zap.String("concept_id", conceptID), zap.String("snapshot_id", snapshotID))
	return ws, nil
}

// Reindex pushes every stored concept to the search index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	ids, err := s.store.ListConceptIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list concepts: %w", err)
	}
	return s.search.Reindex(ctx, ids, func(ctx context.Context, conceptID string) (outline.Workspace, error) {
		data, err := s.store.LoadWorkspace(ctx, conceptID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return outline.Workspace{}, err
		}
		return s.decode(conceptID, data), nil
	})
}

// WaitBackground blocks until pending index updates have been flushed.
func (s *Service) WaitBackground() {
	s.search.Wait()
}

func (s *Service) mutate(ctx context.Context, conceptID string, fn func(outline.Workspace) (outline.Workspace, error)) (outline.Workspace, error) {
	var result outline.Workspace
	_, err := s.store.MutateWorkspace(ctx, conceptID, func(current []byte) ([]byte, error) {
		ws := s.decode(conceptID, current)
		next, err := fn(ws)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode workspace: %w", err)
		}
		result = next
		return encoded, nil
	})
	if err != nil {
		if isOutlineError(err) {
			return outline.Workspace{}, err
		}
		return outline.Workspace{}, fmt.Errorf("mutate workspace: %w", err)
	}
	return result, nil
}

// decode turns a stored blob into a normalized workspace. Stored data is
// repaired rather than rejected, so a damaged record never locks a concept.
func (s *Service) decode(conceptID string, data []byte) outline.Workspace {
	raw, err := outline.DecodeRaw(data)
	if err != nil {
		s.logger.Error("stored workspace unreadable, starting from empty",
			zap.String("concept_id", conceptID), zap.Int("bytes", len(data)), zap.Error(err))
		raw = outline.RawWorkspace{}
	} else if issues := raw.Issues(); len(issues) > 0 {
		s.logger.Warn("stored workspace repaired",
			zap.String("concept_id", conceptID), zap.Strings("issues", issues))
	}
	return s.engine.Normalize(raw)
}

func (s *Service) afterWrite(ctx context.Context, conceptID string, ws outline.Workspace) {
	s.remember(ctx, conceptID, ws)
	s.search.SyncConcept(conceptID, ws)
}

func (s *Service) remember(ctx context.Context, conceptID string, ws outline.Workspace) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, conceptID, ws); err != nil {
		s.logger.Warn("workspace cache write failed", zap.String("concept_id", conceptID), zap.Error(err))
		// a stale entry is worse than none
		s.forget(ctx, conceptID)
	}
}

func (s *Service) forget(ctx context.Context, conceptID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, conceptID); err != nil {
		s.logger.Warn("workspace cache evict failed", zap.String("concept_id", conceptID), zap.Error(err))
	}
}

func checkConceptID(conceptID string) error {
	if strings.TrimSpace(conceptID) == "" {
		return domainError(http.StatusBadRequest, "INVALID_CONCEPT", "Concept id is required", nil)
	}
	if len(conceptID) > maxConceptIDLength {
		return domainError(http.StatusBadRequest, "INVALID_CONCEPT", "Concept id is too long", map[string]any{"max": maxConceptIDLength})
	}
	return nil
}

func snapshotsDisabled() *DomainError {
	return domainError(http.StatusServiceUnavailable, "SNAPSHOTS_DISABLED", "Snapshots are not configured", nil)
}

func isOutlineError(err error) bool {
	var outlineErr *outline.Error
	return errors.As(err, &outlineErr)
}

// metricOpName keeps arbitrary client strings out of the label set.
func metricOpName(name string) string {
	switch name {
	case outline.OpAddGroup, outline.OpUpdateGroup, outline.OpDeleteGroup,
		outline.OpAddItem, outline.OpMoveItem, outline.OpUpdateItem, outline.OpDeleteItem:
		return name
	}
	return "unknown"
}
