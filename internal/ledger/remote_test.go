package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/payoutops/internal/domain"
)

func TestHTTPAccounterHold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/plans/hold", r.URL.Path)
		var change PostingPlanChange
		require.NoError(t, json.NewDecoder(r.Body).Decode(&change))
		assert.Equal(t, "payout_p1", change.ID)
		json.NewEncoder(w).Encode(holdResponse{Clock: domain.Clock{Token: "clk-7"}})
	}))
	defer server.Close()

	acc := NewHTTPAccounter(server.URL, time.Second)
	clock, err := acc.Hold(context.Background(), PostingPlanChange{ID: "payout_p1"})
	require.NoError(t, err)
	assert.Equal(t, "clk-7", clock.Token)
}

func TestHTTPAccounterStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnprocessableEntity, domain.ErrInvalidRequest},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		acc := NewHTTPAccounter(server.URL, time.Second)

		err := acc.CommitPlan(context.Background(), PostingPlan{ID: "payout_p1"})
		assert.ErrorIs(t, err, tc.want)
		server.Close()
	}
}

func TestHTTPAccounterServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	acc := NewHTTPAccounter(server.URL, time.Second)
	err := acc.RollbackPlan(context.Background(), PostingPlan{ID: "payout_p1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestHTTPAccounterGetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/balances", r.URL.Path)
		var req balanceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(42), req.AccountID)
		assert.Equal(t, "clk-7", req.Clock.Token)
		json.NewEncoder(w).Encode(domain.Balance{AccountID: 42, MinAvailableAmount: 5})
	}))
	defer server.Close()

	acc := NewHTTPAccounter(server.URL, time.Second)
	balance, err := acc.GetBalanceByID(context.Background(), 42, domain.Clock{Token: "clk-7"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance.MinAvailableAmount)
}
