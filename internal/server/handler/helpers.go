package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/fixedpoint"
	"github.com/alanyoungcy/marketmirror/internal/service"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// errBadRequest marks malformed request input.
var errBadRequest = errors.New("bad request")

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps err onto a status code. Client-side failures carry the
// error text; server-side failures are logged and reported as msg only,
// except ledger and timeout errors whose detail the caller needs.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	status := errorStatus(err)
	switch {
	case status == http.StatusInternalServerError:
		logger.ErrorContext(r.Context(), "handler: "+msg,
			slog.String("error", err.Error()),
		)
		writeError(w, status, msg)
	case status >= 500:
		logger.WarnContext(r.Context(), "handler: "+msg,
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, map[string]string{"error": msg, "detail": err.Error()})
	default:
		writeJSON(w, status, map[string]string{"error": msg, "detail": err.Error()})
	}
}

// errorStatus maps the domain error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidSlippage),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrInvalidProposal),
		errors.Is(err, domain.ErrInvalidEvidence),
		errors.Is(err, domain.ErrUnsupportedMarketType),
		errors.Is(err, domain.ErrMinimumOutputIsZero):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotArbitrator):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrWrongState),
		errors.Is(err, domain.ErrBondTooLow),
		errors.Is(err, domain.ErrWindowExpired),
		errors.Is(err, domain.ErrNotYetEligible):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoLiquidity),
		errors.Is(err, domain.ErrZeroQuote),
		errors.Is(err, domain.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrOracleNotConfigured),
		errors.Is(err, service.ErrHistoryNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSubmissionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrLedger),
		errors.Is(err, domain.ErrMetadataUnavailable),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// marketID reads the {id} path parameter.
func marketID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid market id %q", errBadRequest, raw)
	}
	return id, nil
}

// parseOutcome parses an outcome index in [0, 255].
func parseOutcome(raw string) (uint8, error) {
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: outcome %q", domain.ErrInvalidOutcome, raw)
	}
	return uint8(n), nil
}

// parseAmount parses a human-readable collateral amount such as "1.5".
func parseAmount(raw string) (*big.Int, error) {
	return fixedpoint.FromDisplay(raw, fixedpoint.Decimals)
}

// parseAddress parses an optional hex address; empty yields the zero address.
func parseAddress(raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", errBadRequest, raw)
	}
	return common.HexToAddress(raw), nil
}

// amount renders a base-unit integer in both forms.
type amount struct {
	Raw     string `json:"raw"`
	Display string `json:"display"`
}

func newAmount(v *big.Int) amount {
	if v == nil {
		v = new(big.Int)
	}
	return amount{Raw: v.String(), Display: fixedpoint.ToDisplay(v, fixedpoint.Decimals, 6)}
}

func timeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func addrOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}
