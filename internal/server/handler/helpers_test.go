package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/service"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{&domain.LedgerError{Op: "getMarket", Err: domain.ErrNotFound}, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", errBadRequest), http.StatusBadRequest},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrInvalidSlippage, http.StatusBadRequest},
		{domain.ErrInvalidProposal, http.StatusBadRequest},
		{domain.ErrNotArbitrator, http.StatusForbidden},
		{domain.ErrWindowExpired, http.StatusConflict},
		{domain.ErrBondTooLow, http.StatusConflict},
		{domain.ErrNoLiquidity, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{service.ErrOracleNotConfigured, http.StatusServiceUnavailable},
		{domain.ErrSubmissionTimeout, http.StatusGatewayTimeout},
		{domain.ErrMetadataUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, errorStatus(tt.err))
		})
	}
}

func TestWriteFailure_HidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeFailure(rec, req, discard(), "quote failed", errors.New("db password in dsn"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "dsn")

	rec = httptest.NewRecorder()
	writeFailure(rec, req, discard(), "quote failed", fmt.Errorf("amm: %w", domain.ErrNoLiquidity))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no liquidity")
}

func TestParsers(t *testing.T) {
	out, err := parseOutcome("3")
	require.NoError(t, err)
	assert.Equal(t, uint8(3), out)

	_, err = parseOutcome("256")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = parseOutcome("")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	amt, err := parseAmount("1.5")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, want, amt)

	_, err = parseAmount("1e18")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = parseAddress("0x123")
	assert.ErrorIs(t, err, errBadRequest)
	addr, err := parseAddress("")
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", addr.Hex())

	req := httptest.NewRequest(http.MethodGet, "/api/markets/x", nil)
	req.SetPathValue("id", "x")
	_, err = marketID(req)
	assert.ErrorIs(t, err, errBadRequest)
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=9000&offset=-3&since=2026-01-02T00:00:00Z&until=bad", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, 2026, opts.Since.Year())
	assert.Nil(t, opts.Until)
}

func TestNewAmount(t *testing.T) {
	v, _ := new(big.Int).SetString("1234567890000000000", 10)
	a := newAmount(v)
	assert.Equal(t, "1234567890000000000", a.Raw)
	assert.Equal(t, "1.234567", a.Display)

	assert.Equal(t, amount{Raw: "0", Display: "0"}, newAmount(nil))
}
