/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package health serves a minimal /debug/health endpoint load balancers and
// orchestrators can poll to decide whether this proxy instance is ready to
// take driver connections.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/cloudspannerecosystem/spanner-cassandra-proxy/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const healthPath = "/debug/health"

// Server serves /debug/health on a local port. A zero port disables it
// entirely: Start and Stop become no-ops and MarkReady is harmless.
type Server struct {
	port  int
	runID string
	ready atomic.Bool
	srv   *http.Server
}

// NewServer builds a Server bound to the given port. Port 0 disables it.
// Each Server is tagged with a random run id, returned on every response, so
// operators can tell which proxy process answered a given health check.
func NewServer(port int) *Server {
	return &Server{port: port, runID: uuid.NewString()}
}

// MarkReady flips the endpoint from 503 to 200. Called once the proxy has a
// live Adapter session and is about to start accepting driver connections.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

// Start begins serving in the background. No-op if disabled.
func (s *Server) Start() {
	if s.port == 0 {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, s.handle)
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", s.port),
		Handler: mux,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health check server exited", zap.Error(err))
		}
	}()
}

func (s *Server) handle(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("X-Health-Run-Id", s.runID)
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"NOT_SERVING"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"SERVING"}`))
}

// Stop shuts the health server down, if running.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	_ = s.srv.Shutdown(context.Background())
}
