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

import "google.golang.org/api/option"

// Protocol identifies the wire protocol a TCPProxy terminates locally. The
// core only ever speaks for the client side of that protocol; everything it
// needs from the protocol itself is its name, echoed back in every
// AdaptMessageRequest.
type Protocol interface {
	Name() string
}

// Options configures a TCPProxy.
type Options struct {
	// Spanner database uri to connect to. Required.
	DatabaseUri string
	// Optional Spanner service endpoint. Defaults to spanner.googleapis.com:443.
	SpannerEndpoint string
	// Protocol type (ie: cassandra).
	Protocol Protocol
	// Number of channels when dialing the grpc connection. Defaults to 4.
	NumGrpcChannels int
	// Optional endpoint to start the local TCP server on. If not specified,
	// defaults to localhost:9042.
	TCPEndpoint string
	// Whether to disable automatic grpc retry for the AdaptMessage API.
	DisableAdaptMessageRetry bool
	// The maximum per-write commit delay, in milliseconds. 0 disables it.
	MaxCommitDelay int
	// Optional log level understood by zapcore.Level.UnmarshalText. Defaults
	// to info.
	LogLevel string
	// Optional additional client options forwarded to the gapic client, e.g.
	// test-only credential overrides.
	GoogleApiOpts []option.ClientOption
	// Whether to use a plaintext (non-TLS) channel to the upstream endpoint.
	// Intended for local/dev testing against an emulator only.
	UsePlainText bool
	// Whether to start the optional metrics pipeline and emit measurements to
	// Cloud Monitoring.
	EnableBuiltInMetrics bool
	// Local HTTP port to serve /debug/health on. Zero disables the health
	// check server.
	HealthCheckPort int
}
