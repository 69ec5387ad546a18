package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salesloop/crmgate/internal/telemetry"
)

// proxyBodyLimit caps buffered request bodies. Dashboard payloads are small
// form submissions; anything larger is not a CRM entity.
const proxyBodyLimit = 1 << 20 // 1MiB

// handleProxy forwards a dashboard resource call to the backend through the
// session client, so the access token is attached and refreshed exactly like
// any other authenticated call. The body is buffered up front because the
// retry after a refresh has to replay it.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	metrics := telemetry.GetMetrics()

	body, err := io.ReadAll(io.LimitReader(r.Body, proxyBodyLimit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > proxyBodyLimit {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	outURL := s.gateway.ResolveURL(strings.TrimPrefix(r.URL.Path, "/api"))
	if r.URL.RawQuery != "" {
		outURL += "?" + r.URL.RawQuery
	}

	// NewRequestWithContext wires GetBody for a bytes.Reader, which is what
	// lets the session client replay the request on retry.
	req, err := http.NewRequestWithContext(r.Context(), r.Method, outURL, bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	client := s.clientFor(w, r)

	resp, err := client.Do(r.Context(), req)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	defer resp.Body.Close()

	metrics.ProxyRequestsTotal.Add(r.Context(), 1)
	metrics.ProxyDuration.Record(r.Context(), float64(time.Since(started).Milliseconds()))

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("failed to stream proxied response")
	}
}
