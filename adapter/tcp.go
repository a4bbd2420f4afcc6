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

package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cloudspannerecosystem/spanner-cassandra-proxy/health"
	"github.com/cloudspannerecosystem/spanner-cassandra-proxy/logger"

	"github.com/datastax/go-cassandra-native-protocol/frame"
	"go.uber.org/zap"
)

// TCPProxy encapsulates a Spanner Adapter proxy. The zero value is not
// usable; construct one with NewTCPProxy.
type TCPProxy struct {
	opts             Options
	listener         net.Listener
	client           *AdapterClient
	nextConnectionID int
	globalState      *globalState
	health           *health.Server
	metrics          *Recorder

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewTCPProxy builds a proxy and performs the one-time setup that must
// succeed before it can start serving: dialing Spanner, minting the initial
// Adapter session, allocating the prepared-statement cache and binding the
// local listener. Call Start to begin accepting connections.
func NewTCPProxy(opts Options) (*TCPProxy, error) {
	ctx := context.Background()
	if opts.Protocol == nil {
		return nil, fmt.Errorf("nil protocol adapter provided to spanner TCPProxy")
	}
	if opts.NumGrpcChannels <= 0 {
		opts.NumGrpcChannels = 4
	}
	if opts.TCPEndpoint == "" {
		opts.TCPEndpoint = "localhost:9042"
	}

	// Create spanner adapter client.
	cl, err := newAdapterClient(ctx, opts)
	if err != nil {
		return nil, err
	}

	// Create the initial session. Subsequent refreshes go through
	// cl.sessions on the request path.
	if err := cl.sessions.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to create initial adapter session: %w", err)
	}

	// Get or create global state cache.
	globalState, err := NewDefaultGlobalState(maxGlobalStateSize)
	if err != nil {
		return nil, err
	}

	recorder, err := NewRecorder(ctx, RecorderOptions{
		Enabled:     opts.EnableBuiltInMetrics,
		DatabaseUri: opts.DatabaseUri,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics pipeline: %w", err)
	}

	proxy := &TCPProxy{
		opts:        opts,
		client:      cl,
		globalState: globalState,
		health:      health.NewServer(opts.HealthCheckPort),
		metrics:     recorder,
	}

	proxy.listener, err = net.Listen("tcp", opts.TCPEndpoint)
	if err != nil {
		return nil, fmt.Errorf(
			"spanner proxy failed to listen on local port: %w",
			err,
		)
	}

	proxy.health.MarkReady()
	return proxy, nil
}

// Start begins serving the health endpoint (if configured) and accepting
// driver connections. It returns immediately; use Close to shut down.
func (proxy *TCPProxy) Start() {
	proxy.mu.Lock()
	if proxy.started {
		proxy.mu.Unlock()
		panic("adapter: TCPProxy.Start called twice")
	}
	proxy.started = true
	ctx, cancel := context.WithCancel(context.Background())
	proxy.cancel = cancel
	proxy.mu.Unlock()

	proxy.health.Start()

	logger.Info(
		"Spanner proxy listening on ",
		zap.String("tcp_port", proxy.listener.Addr().String()),
	)

	proxy.wg.Add(1)
	go proxy.acceptLoop(ctx)
}

func (proxy *TCPProxy) acceptLoop(ctx context.Context) {
	defer proxy.wg.Done()
	for {
		conn, err := proxy.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Error("Spanner proxy failed to accept connection", zap.Error(err))
			break
		}
		logger.Debug(
			"Spanner proxy received a connection, assigning ID",
			zap.Int("connection_id", proxy.nextConnectionID),
		)

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.SetNoDelay(true); err != nil {
				logger.Debug("Spanner proxy failed to set TCP_NODELAY", zap.Error(err))
			}
		}

		dc := &driverConnection{
			connectionID:  proxy.nextConnectionID,
			protocol:      proxy.opts.Protocol,
			adapterClient: proxy.client,
			executor: &requestExecutor{
				protocol:    proxy.opts.Protocol,
				client:      proxy.client,
				globalState: proxy.globalState,
				opts:        &proxy.opts,
			},
			driverConn:  conn,
			globalState: proxy.globalState,
			md:          proxy.client.md,
			metrics:     proxy.metrics,
			codec:       frame.NewCodec(),
			rawCodec:    frame.NewRawCodec(),
		}

		proxy.wg.Add(1)
		go func() {
			defer proxy.wg.Done()
			dc.handleConnection(ctx)
		}()
		proxy.nextConnectionID++
	}
	logger.Debug("Spanner proxy accept loop exited")
}

// Addr returns the address of the proxy.
func (proxy *TCPProxy) Addr() net.Addr {
	return proxy.listener.Addr()
}

// Close stops the proxy: it stops accepting new connections, cancels the
// context passed to every in-flight handleConnection goroutine, and blocks
// until all of them have returned. Safe to call multiple times. Stopping a
// proxy that was never Start-ed is a programmer error.
func (proxy *TCPProxy) Close() {
	proxy.mu.Lock()
	if !proxy.started {
		proxy.mu.Unlock()
		panic("adapter: TCPProxy.Close called before Start")
	}
	if proxy.stopped {
		proxy.mu.Unlock()
		return
	}
	proxy.stopped = true
	cancel := proxy.cancel
	proxy.mu.Unlock()

	proxy.listener.Close()
	if cancel != nil {
		cancel()
	}
	proxy.wg.Wait()
	proxy.health.Stop()
	_ = proxy.metrics.Close(context.Background())
}
