package testutil

import (
	"net/http"

	"identify/pkg/requestcontext"
)

// WithRequestID attaches a request id the way the requestid middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
