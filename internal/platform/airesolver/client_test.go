package airesolver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketmirror/internal/crypto"
	"github.com/alanyoungcy/marketmirror/internal/domain"
)

func TestClient_RequestResolution(t *testing.T) {
	auth := &crypto.RequestAuth{Key: "key-1", Secret: "c2VjcmV0"}
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/resolutions", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(HeaderRequestID))
		assert.Equal(t, "key-1", r.Header.Get(crypto.HeaderAPIKey))

		gotBody, _ = io.ReadAll(r.Body)
		ok := auth.Verify(r.Method, r.URL.Path, gotBody,
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature),
			time.Now(), time.Minute)
		assert.True(t, ok, "signature must verify")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"requestId":"r-1","marketId":7,"status":"pending","progress":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth, time.Second)
	st, err := c.RequestResolution(t.Context(), ResolutionRequest{
		MarketID: 7,
		Metadata: Metadata{Question: "Will it rain?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "r-1", st.RequestID)
	assert.Equal(t, StatePending, st.Status)
	require.NotNil(t, st.Progress)
	assert.False(t, st.Status.Done())

	var sent map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	meta := sent["metadata"].(map[string]any)
	assert.Equal(t, "Will it rain?", meta["question"])
	_, hasDesc := meta["description"]
	assert.False(t, hasDesc)
}

func TestClient_StatusResultHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /resolutions/r-2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"requestId":"r-2","marketId":3,"status":"completed"}`))
	})
	mux.HandleFunc("GET /resolutions/r-2/result", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"requestId":"r-2","marketId":3,"outcomeId":1,"confidence":87,
			"reasoning":"official results","sources":["https://a","https://b"],
			"evidenceUrl":"ipfs://evidence","timestamp":1700000000,
			"proposal":{"marketId":3,"outcomeId":1,"closeTime":1690000000,
				"evidenceHash":"0x` + strings.Repeat("ab", 32) + `",
				"notBefore":1700000000,"deadline":1700003600,
				"signature":"` + strings.Repeat("11", 65) + `"}}`))
	})
	mux.HandleFunc("GET /markets/3/resolutions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"requestId":"r-1","marketId":3,"outcomeId":0},{"requestId":"r-2","marketId":3,"outcomeId":1}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, nil, 0)
	ctx := t.Context()

	st, err := c.Status(ctx, "r-2")
	require.NoError(t, err)
	assert.True(t, st.Status.Done())
	assert.Nil(t, st.Progress)

	res, err := c.Result(ctx, "r-2")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), res.OutcomeID)
	assert.Equal(t, 87, res.Confidence)
	assert.Len(t, res.Sources, 2)
	assert.Equal(t, int64(1700000000), res.Time().Unix())
	require.NotNil(t, res.Proposal)

	sp, err := res.Proposal.ToDomain()
	require.NoError(t, err)
	assert.Len(t, sp.Proposal.EvidenceHash, 32)
	assert.Len(t, sp.Signature, 65)
	assert.Equal(t, uint64(1700003600), sp.Proposal.Deadline)

	hist, err := c.History(ctx, 3)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "r-1", hist[0].RequestID)
}

func TestClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		sentinel error
		contains string
	}{
		{"error field", http.StatusBadRequest, `{"error":"market not closed"}`, nil, "market not closed"},
		{"message field", http.StatusInternalServerError, `{"message":"model unavailable"}`, nil, "model unavailable"},
		{"no body", http.StatusBadGateway, ``, nil, "HTTP 502"},
		{"not json", http.StatusServiceUnavailable, `<html>down</html>`, nil, "HTTP 503"},
		{"not found", http.StatusNotFound, `{"error":"unknown request"}`, domain.ErrNotFound, "unknown request"},
		{"unauthorized", http.StatusUnauthorized, ``, domain.ErrUnauthorized, "HTTP 401"},
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, domain.ErrRateLimited, "slow down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil, time.Second).Status(t.Context(), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestWireProposal_ToDomainRejectsBadHex(t *testing.T) {
	_, err := WireProposal{EvidenceHash: "zz", Signature: "00"}.ToDomain()
	assert.ErrorIs(t, err, domain.ErrInvalidProposal)

	_, err = WireProposal{EvidenceHash: "00", Signature: "0xzz"}.ToDomain()
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}
