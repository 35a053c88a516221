// Package tyatest provides an in-process catalog service for tests.
package tyatest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Server answers the filter and list endpoints with canned JSON bodies and
// records every request it receives.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   map[string]string
	failures map[string]int
	requests []string
}

// NewServer starts a catalog service where every filter and list endpoint
// returns an empty array. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		bodies:   make(map[string]string),
		failures: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// SetFilter sets the body of /{kind}/filter.
func (s *Server) SetFilter(kind, body string) {
	s.set("/"+kind+"/filter", body)
}

// SetList sets the body of /{kind}/list. The ids parameter is not inspected.
func (s *Server) SetList(kind, body string) {
	s.set("/"+kind+"/list", body)
}

// Fail makes path answer with status and no body.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Requests returns the request URIs received so far, in order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// RequestsTo returns the received request URIs whose path is path.
func (s *Server) RequestsTo(path string) []string {
	var out []string
	for _, uri := range s.Requests() {
		if p, _, _ := strings.Cut(uri, "?"); p == path {
			out = append(out, uri)
		}
	}
	return out
}

func (s *Server) set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[path] = body
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.RequestURI())
	status, failing := s.failures[r.URL.Path]
	body, ok := s.bodies[r.URL.Path]
	s.mu.Unlock()

	if failing {
		w.WriteHeader(status)
		return
	}
	if !ok {
		if !strings.HasSuffix(r.URL.Path, "/filter") && !strings.HasSuffix(r.URL.Path, "/list") {
			http.NotFound(w, r)
			return
		}
		body = "[]"
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}
