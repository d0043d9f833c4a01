package synthesis

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
)

// responder writes at most one response. The first claim wins; later
// attempts report false and write nothing.
type responder struct {
	w    http.ResponseWriter
	sent atomic.Bool
}

func newResponder(w http.ResponseWriter) *responder {
	return &responder{w: w}
}

func (r *responder) claim() bool {
	return r.sent.CompareAndSwap(false, true)
}

func (r *responder) audio(pcm []byte) (bool, error) {
	if !r.claim() {
		return false, nil
	}
	h := r.w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(len(pcm)))
	r.w.WriteHeader(http.StatusOK)
	_, err := r.w.Write(pcm)
	return true, err
}

func (r *responder) fail(e *Error) (bool, error) {
	if !r.claim() {
		return false, nil
	}
	return true, writeJSON(r.w, e.Status(), e.response())
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
