package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginalia/api/internal/mirror"
	"marginalia/api/internal/outline"
)

func TestApplyOperationSendsWireForm(t *testing.T) {
	want := outline.Normalize(outline.RawWorkspace{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/concepts/c 1/workspace/ops", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"op":"deleteItem","payload":{"itemId":"i"}}`, string(body))
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := New(srv.URL).ApplyOperation(context.Background(), "c 1", outline.DeleteItem{ItemID: "i"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestErrorResponsesDecodeToAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"INVALID_OPERATION","error":"moveItem: would create a cycle","details":{"op":"moveItem"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).ApplyOperation(context.Background(), "c", outline.MoveItem{ItemID: "a"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "INVALID_OPERATION", apiErr.Code)
	assert.Equal(t, "moveItem", apiErr.Details["op"])
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetWorkspace(context.Background(), "c")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestSessionOverClient(t *testing.T) {
	engine := outline.NewEngine()
	state := engine.Normalize(outline.RawWorkspace{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(state)
		case http.MethodPost:
			var req operationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			op, err := outline.ParseOperation(req.Op, req.Payload)
			require.NoError(t, err)
			next, err := engine.Apply(state, op)
			require.NoError(t, err)
			state = next
			_ = json.NewEncoder(w).Encode(state)
		}
	}))
	defer srv.Close()

	session := mirror.NewSession("c", New(srv.URL), nil)
	ws, err := session.Refresh(context.Background())
	require.NoError(t, err)

	ws, err = session.Do(context.Background(), outline.AddItem{Type: outline.TypeNote, RefID: "N1", GroupID: ws.Groups[0].ID})
	require.NoError(t, err)
	require.Len(t, ws.Items, 1)
	assert.Equal(t, state, session.Workspace())
}
