package mirror

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginalia/api/internal/outline"
)

type fakeTransport struct {
	getFn     func(ctx context.Context, conceptID string) (outline.Workspace, error)
	applyFn   func(ctx context.Context, conceptID string, op outline.Operation) (outline.Workspace, error)
	replaceFn func(ctx context.Context, conceptID string, ws outline.Workspace) (outline.Workspace, error)
	applied   int
}

func (f *fakeTransport) GetWorkspace(ctx context.Context, conceptID string) (outline.Workspace, error) {
	return f.getFn(ctx, conceptID)
}

func (f *fakeTransport) ApplyOperation(ctx context.Context, conceptID string, op outline.Operation) (outline.Workspace, error) {
	f.applied++
	return f.applyFn(ctx, conceptID, op)
}

func (f *fakeTransport) ReplaceWorkspace(ctx context.Context, conceptID string, ws outline.Workspace) (outline.Workspace, error) {
	return f.replaceFn(ctx, conceptID, ws)
}

func loadedSession(t *testing.T, transport *fakeTransport) *Session {
	t.Helper()
	transport.getFn = func(context.Context, string) (outline.Workspace, error) { return seeded(), nil }
	session := NewSession("concept-1", transport, nil)
	_, err := session.Refresh(context.Background())
	require.NoError(t, err)
	return session
}

func TestSessionPublishesPredictionThenServerState(t *testing.T) {
	server := seeded()
	server.Items = append(server.Items, outline.Item{ID: "srv_1", Type: outline.TypeNote, RefID: "N", GroupID: "g2", Stage: outline.StageWorking, Status: outline.StatusActive, Order: 1})

	transport := &fakeTransport{applyFn: func(_ context.Context, conceptID string, op outline.Operation) (outline.Workspace, error) {
		assert.Equal(t, "concept-1", conceptID)
		assert.Equal(t, outline.OpAddItem, op.Name())
		return server, nil
	}}
	session := loadedSession(t, transport)

	var published []outline.Workspace
	session.OnChange(func(ws outline.Workspace) { published = append(published, ws) })

	got, err := session.Do(context.Background(), outline.AddItem{Type: outline.TypeNote, RefID: "N", GroupID: "g2"})
	require.NoError(t, err)
	assert.Equal(t, server, got)
	assert.Equal(t, server, session.Workspace())

	require.Len(t, published, 2)
	predicted := published[0]
	assert.Len(t, predicted.Items, 5)
	assert.NotEqual(t, "srv_1", predicted.Items[4].ID)
	assert.Equal(t, "N", predicted.Items[4].RefID)
	assert.Equal(t, server, published[1])
}

func TestSessionRevertsOnServerFailure(t *testing.T) {
	failure := errors.New("502 bad gateway")
	transport := &fakeTransport{applyFn: func(context.Context, string, outline.Operation) (outline.Workspace, error) {
		return outline.Workspace{}, failure
	}}
	session := loadedSession(t, transport)
	before := session.Workspace()

	var published []outline.Workspace
	session.OnChange(func(ws outline.Workspace) { published = append(published, ws) })

	_, err := session.Do(context.Background(), outline.DeleteItem{ItemID: "a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure))

	assert.Equal(t, before, session.Workspace())
	require.Len(t, published, 2)
	assert.Len(t, published[0].Items, 2, "prediction removed a and its child")
	assert.Equal(t, before, published[1])
}

func TestSessionLocalRejectionSkipsServer(t *testing.T) {
	transport := &fakeTransport{}
	session := loadedSession(t, transport)

	_, err := session.Do(context.Background(), outline.MoveItem{ItemID: "a", ParentID: ptr("b")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Zero(t, transport.applied)
}

func TestSessionReplaceValidatesLocally(t *testing.T) {
	var sent *outline.Workspace
	transport := &fakeTransport{replaceFn: func(_ context.Context, _ string, ws outline.Workspace) (outline.Workspace, error) {
		sent = &ws
		return ws, nil
	}}
	session := loadedSession(t, transport)

	bad := seeded()
	bad.Items[0].Stage = "done"
	_, err := session.Replace(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, outline.ErrInvalidPayload))
	assert.Nil(t, sent)

	good := seeded()
	good.Groups[0].Title = "Renamed"
	got, err := session.Replace(context.Background(), good)
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, "Renamed", got.Groups[0].Title)
	assert.Equal(t, good, session.Workspace())
}

func TestSessionRefreshError(t *testing.T) {
	transport := &fakeTransport{getFn: func(context.Context, string) (outline.Workspace, error) {
		return outline.Workspace{}, errors.New("offline")
	}}
	session := NewSession("c", transport, nil)
	_, err := session.Refresh(context.Background())
	require.Error(t, err)
	assert.Len(t, session.Workspace().Groups, 1)
}
