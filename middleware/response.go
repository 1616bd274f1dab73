package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/kennelguard"
	"github.com/MrEthical07/kennelguard/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

type denialBody struct {
	Code      kennelguard.Code `json:"code"`
	Message   string           `json:"message"`
	Limit     *int             `json:"limit,omitempty"`
	Remaining *int             `json:"remaining,omitempty"`
	Reset     string           `json:"reset,omitempty"`
}

// WriteDenial writes err as a JSON denial with the status from
// kennelguard.Describe. Rate limit errors also carry Retry-After and the
// X-RateLimit-* headers; now is used for Retry-After.
func WriteDenial(w http.ResponseWriter, err error, now time.Time) {
	d := kennelguard.Describe(err)
	body := denialBody{Code: d.Code, Message: d.Message}

	var rl *kennelguard.RateLimitError
	if errors.As(err, &rl) {
		limit, remaining := rl.Limit, rl.Remaining
		body.Limit = &limit
		body.Remaining = &remaining
		body.Reset = rl.ResetAt.UTC().Format(time.RFC3339)

		setRateLimitHeaders(w.Header(), rl.Limit, rl.Remaining, rl.ResetAt)
		retry := int(rl.RetryAfter(now) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}

	WriteJSON(w, d.Status, body)
}

// SetRateLimitHeaders copies an allowed decision into the response headers.
// Decisions with Limit 0 come from a disabled limiter and set nothing.
func SetRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	setRateLimitHeaders(w.Header(), d.Limit, d.Remaining, d.ResetAt)
}

// X-RateLimit-Reset is unix seconds.
func setRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(resetAt.Unix(), 10))
}

// WriteJSON writes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
