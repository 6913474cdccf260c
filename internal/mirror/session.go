package mirror

import (
	"context"
	"fmt"
	"sync"

	"marginalia/api/internal/outline"
)

// Transport carries operations to the authoritative server.
type Transport interface {
	GetWorkspace(ctx context.Context, conceptID string) (outline.Workspace, error)
	ApplyOperation(ctx context.Context, conceptID string, op outline.Operation) (outline.Workspace, error)
	ReplaceWorkspace(ctx context.Context, conceptID string, ws outline.Workspace) (outline.Workspace, error)
}

// Session holds the latest known workspace of one concept. Every Do publishes a
// prediction first and then the server's answer, or the pre-operation snapshot
// when the server refuses. Overlapping calls layer on whatever state is current,
// so a late response overwrites newer state.
type Session struct {
	conceptID string
	transport Transport
	predictor outline.Applier

	mu        sync.Mutex
	current   outline.Workspace
	listeners []func(outline.Workspace)
}

// NewSession starts from the empty normalized workspace; call Refresh to load
// the server's copy. A nil predictor uses NewPredictor.
func NewSession(conceptID string, transport Transport, predictor outline.Applier) *Session {
	if predictor == nil {
		predictor = NewPredictor()
	}
	return &Session{
		conceptID: conceptID,
		transport: transport,
		predictor: predictor,
		current:   outline.Normalize(outline.RawWorkspace{}),
	}
}

func (s *Session) ConceptID() string {
	return s.conceptID
}

// Workspace returns a copy of the current state.
func (s *Session) Workspace() outline.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// OnChange registers fn to receive every published state, predictions included.
func (s *Session) OnChange(fn func(outline.Workspace)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) Refresh(ctx context.Context) (outline.Workspace, error) {
	ws, err := s.transport.GetWorkspace(ctx, s.conceptID)
	if err != nil {
		return outline.Workspace{}, fmt.Errorf("refresh %s: %w", s.conceptID, err)
	}
	s.publish(ws)
	return ws, nil
}

// Do applies op optimistically. A local rejection returns before anything is
// sent.
func (s *Session) Do(ctx context.Context, op outline.Operation) (outline.Workspace, error) {
	s.mu.Lock()
	snapshot := s.current
	predicted, err := s.predictor.Apply(snapshot, op)
	s.mu.Unlock()
	if err != nil {
		return outline.Workspace{}, err
	}
	s.publish(predicted)

	confirmed, err := s.transport.ApplyOperation(ctx, s.conceptID, op)
	if err != nil {
		s.publish(snapshot)
		return outline.Workspace{}, fmt.Errorf("apply %s: %w", op.Name(), err)
	}
	s.publish(confirmed)
	return confirmed, nil
}

// Replace validates ws locally and sends it as a full replacement. There is no
// prediction: the state changes only once the server accepts.
func (s *Session) Replace(ctx context.Context, ws outline.Workspace) (outline.Workspace, error) {
	if err := outline.Validate(ws.Raw()); err != nil {
		return outline.Workspace{}, err
	}
	confirmed, err := s.transport.ReplaceWorkspace(ctx, s.conceptID, ws)
	if err != nil {
		return outline.Workspace{}, fmt.Errorf("replace %s: %w", s.conceptID, err)
	}
	s.publish(confirmed)
	return confirmed, nil
}

func (s *Session) publish(ws outline.Workspace) {
	s.mu.Lock()
	s.current = ws
	listeners := make([]func(outline.Workspace), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(ws.Clone())
	}
}
