package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAuctionValidation(t *testing.T) {
	f := newFixture(t)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name   string
		userID string
		body   string
		status int
	}{
		{"anonymous", "", `{"title":"x","end_time":"` + future + `"}`, http.StatusUnauthorized},
		{"missing title", "seller", `{"end_time":"` + future + `"}`, http.StatusBadRequest},
		{"end in the past", "seller", `{"title":"x","end_time":"2020-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"bad price", "seller", `{"title":"x","starting_price":"ten","end_time":"` + future + `"}`, http.StatusBadRequest},
		{"negative price", "seller", `{"title":"x","starting_price":-5,"end_time":"` + future + `"}`, http.StatusBadRequest},
		{"ok", "seller", `{"title":"x","starting_price":"5000","end_time":"` + future + `"}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/auctions", tt.userID, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAuctionLifecycleEndpoints(t *testing.T) {
	f := newFixture(t)
	created := f.createAuction(t, "5000")
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, "5000.00", created.StartingPrice)
	assert.Equal(t, "seller", created.OwnerID)

	rec := f.do(http.MethodGet, "/api/v1/auctions/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got AuctionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 0, got.BidCount)

	rec = f.do(http.MethodDelete, "/api/v1/auctions/"+created.ID, "seller", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cannot delete an active auction", decodeError(t, rec))

	rec = f.do(http.MethodPost, "/api/v1/auctions/"+created.ID+"/cancel", "mallory", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/auctions/"+created.ID+"/cancel", "seller", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "cancelled", got.Status)

	rec = f.do(http.MethodDelete, "/api/v1/auctions/"+created.ID, "seller", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/auctions/"+created.ID, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "auction not found", decodeError(t, rec))
}

func TestCancelAuctionWithBidsRejected(t *testing.T) {
	f := newFixture(t)
	created := f.createAuction(t, "10")
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/bids", "alice-1", `{"auction_id":"`+created.ID+`","amount":11}`).Code)

	rec := f.do(http.MethodPost, "/api/v1/auctions/"+created.ID+"/cancel", "seller", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "auction with bids cannot be cancelled", decodeError(t, rec))
}
