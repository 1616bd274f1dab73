package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync"

	"github.com/MrEthical07/kennelguard"
	"github.com/go-chi/chi/v5"
)

// maxBodyPeek bounds how much of a request body guards may buffer.
const maxBodyPeek = 1 << 20

// HTTPRequest adapts *http.Request to kennelguard.RequestAttributes.
//
// Route parameters come from chi when routed by chi, and from
// http.Request.PathValue otherwise. The JSON body is read at most once and
// restored so handlers can read it again.
type HTTPRequest struct {
	r *http.Request

	once sync.Once
	body map[string]json.RawMessage
}

var _ kennelguard.RequestAttributes = (*HTTPRequest)(nil)

// NewHTTPRequest wraps r.
func NewHTTPRequest(r *http.Request) *HTTPRequest {
	return &HTTPRequest{r: r}
}

// RouteParam returns the named path parameter.
func (h *HTTPRequest) RouteParam(name string) string {
	if v := chi.URLParam(h.r, name); v != "" {
		return v
	}
	return h.r.PathValue(name)
}

// QueryParam returns the first value of the named query parameter.
func (h *HTTPRequest) QueryParam(name string) string {
	return h.r.URL.Query().Get(name)
}

// BodyField returns a top-level string or number field of a JSON object
// body.
func (h *HTTPRequest) BodyField(name string) string {
	h.once.Do(h.loadBody)

	raw, ok := h.body[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String()
		}
	}
	return ""
}

func (h *HTTPRequest) loadBody() {
	if h.r.Body == nil || h.r.Body == http.NoBody {
		return
	}
	if ct := h.r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			return
		}
	}

	orig := h.r.Body
	data, err := io.ReadAll(io.LimitReader(orig, maxBodyPeek))
	h.r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(data), orig), Closer: orig}
	if err != nil {
		return
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(data, &obj) == nil {
		h.body = obj
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
