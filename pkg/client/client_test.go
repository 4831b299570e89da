package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ownrealm/pkg/core"
	"ownrealm/pkg/types"
)

func TestSyncDecodesSnapshot(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/settlements/7/sync", r.URL.Path)
		json.NewEncoder(w).Encode(types.SyncSnapshot{
			ServerTime: now,
			Resources:  types.ResourceState{SettlementID: 7, Wood: 12},
			Queues: map[types.SubjectType][]types.QueueEntry{
				types.SubjectBuilding: {{ID: 3, SubjectKey: "farm"}},
			},
		})
	}))
	defer srv.Close()

	snap, err := New(srv.URL).Sync(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, snap.ServerTime.Equal(now))
	assert.Equal(t, 12, snap.Resources.Wood)
	assert.Equal(t, int64(3), snap.Queues[types.SubjectBuilding][0].ID)
}

func TestErrorKinds(t *testing.T) {
	codes := map[string]int{
		"/api/offers/1": http.StatusBadRequest,
		"/api/offers/2": http.StatusNotFound,
		"/api/offers/3": http.StatusConflict,
		"/api/offers/4": http.StatusServiceUnavailable,
		"/api/offers/5": http.StatusTeapot,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(codes[r.URL.Path])
		json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	err := c.CancelOffer(ctx, 1)
	assert.True(t, core.IsValidation(err))
	assert.Contains(t, err.Error(), "nope")
	assert.ErrorIs(t, c.CancelOffer(ctx, 2), core.ErrNotFound)
	assert.ErrorIs(t, c.CancelOffer(ctx, 3), core.ErrConflict)
	assert.ErrorIs(t, c.CancelOffer(ctx, 4), core.ErrTransientStore)
	err = c.CancelOffer(ctx, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
}

func TestEnqueueSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req EnqueueRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "militaryUnit", req.SubjectType)
		json.NewEncoder(w).Encode(types.QueueEntry{ID: 9, SubjectKey: req.SubjectKey, Target: req.Count})
	}))
	defer srv.Close()

	e, err := New(srv.URL).Enqueue(context.Background(), 1,
		EnqueueRequest{SubjectType: "militaryUnit", SubjectKey: "archer", Count: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Target)
}
