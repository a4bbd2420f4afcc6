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

package spanner

import (
	"strings"

	"github.com/gocql/gocql"
)

// maxSpannerRetries bounds how many times a ReadFailure/WriteFailure
// carrying a transient Spanner marker is retried on the same coordinator
// before giving up and rethrowing to the caller.
const maxSpannerRetries = 10

// spannerTransientMarkers are substrings of ReadFailure/WriteFailure messages
// that indicate the underlying gRPC call hit a transient condition on the
// Spanner side rather than a genuine data-consistency failure.
var spannerTransientMarkers = []string{
	"HTTP/2 error code: INTERNAL_ERROR",
	"Connection closed with unknown cause",
	"Received unexpected EOS on DATA frame from server",
	"stream terminated by RST_STREAM",
	"Authentication backend internal server error. Please retry.",
	"DEADLINE_EXCEEDED",
	"ABORTED",
	"RESOURCE_EXHAUSTED",
	"UNAVAILABLE",
}

// isSpannerFailure reports whether err is one of the two Cassandra failure
// kinds this policy knows how to reinterpret: ReadFailure or WriteFailure.
func isSpannerFailure(err error) bool {
	switch err.(type) {
	case *gocql.RequestErrReadFailure, *gocql.RequestErrWriteFailure:
		return true
	default:
		return false
	}
}

// hasTransientMarker reports whether err's message embeds one of the known
// transient gRPC conditions Spanner surfaces through Cassandra failure text.
func hasTransientMarker(err error) bool {
	msg := err.Error()
	for _, marker := range spannerTransientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// SpannerRetryPolicy is a gocql.RetryPolicy that recognizes Spanner's
// transient-condition markers embedded in ReadFailure/WriteFailure message
// text and retries them on the same coordinator. A ReadFailure/WriteFailure
// without a recognized marker is rethrown; every other Cassandra failure
// kind delegates to the wrapped fallback policy.
type SpannerRetryPolicy struct {
	fallback gocql.RetryPolicy
}

// NewSpannerRetryPolicy builds a SpannerRetryPolicy delegating non-Spanner
// failures to gocql's SimpleRetryPolicy.
func NewSpannerRetryPolicy() *SpannerRetryPolicy {
	return &SpannerRetryPolicy{
		fallback: &gocql.SimpleRetryPolicy{NumRetries: maxSpannerRetries},
	}
}

// Attempt reports whether another attempt is permitted for q. Attempts()
// counts the initial try as attempt 1, so retryCount <= maxSpannerRetries
// (spec: retryCount <= 10) allows one further attempt up through
// maxSpannerRetries+1.
func (p *SpannerRetryPolicy) Attempt(q gocql.RetryableQuery) bool {
	return q.Attempts() <= maxSpannerRetries+1
}

// GetRetryType classifies err and decides whether to retry, rethrow, or
// delegate to the fallback policy.
func (p *SpannerRetryPolicy) GetRetryType(err error) gocql.RetryType {
	if !isSpannerFailure(err) {
		return p.fallback.GetRetryType(err)
	}
	if hasTransientMarker(err) {
		return gocql.Retry
	}
	return gocql.Rethrow
}
