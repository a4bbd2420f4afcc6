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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// sessionHolder pairs a session with the instant it was minted, so the pair
// is replaced as a single atomic unit and readers never observe a session
// with the wrong refresh time attached.
type sessionHolder struct {
	session     session
	refreshTime time.Time
}

func (h *sessionHolder) expired() bool {
	return time.Now().After(h.refreshTime.Add(SessionRefreshTimeInterval))
}

// sessionManager owns the single Adapter session a TCPProxy multiplexes all
// of its connections through, refreshing it once it is older than
// SessionRefreshTimeInterval.
//
// get is safe for concurrent use. A valid, unexpired session is returned
// without taking the mutex at all. Once the session is expired, callers fall
// through to a mutex-guarded slow path that rechecks expiry before issuing a
// CreateSession call, so a thundering herd of connection goroutines racing a
// cold refresh only ever triggers a single CreateSession: the first caller
// through the lock refreshes and stores the new holder, every other caller
// then finds the recheck already satisfied and reads it back out.
type sessionManager struct {
	mu     sync.Mutex
	holder atomic.Pointer[sessionHolder]
	create func(ctx context.Context) (session, error)
}

func newSessionManager(create func(ctx context.Context) (session, error)) *sessionManager {
	return &sessionManager{create: create}
}

// initialize performs the first, unconditional session creation. It must
// complete before get is called; TCPProxy startup fails outright if it
// errors, rather than deferring the failure to the first connection.
func (sm *sessionManager) initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	h, err := sm.mint(ctx)
	if err != nil {
		return err
	}
	sm.holder.Store(h)
	return nil
}

func (sm *sessionManager) get(ctx context.Context) (session, error) {
	if h := sm.holder.Load(); h != nil && !h.expired() {
		return h.session, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Re-check: another goroutine may have refreshed while we waited on mu.
	if h := sm.holder.Load(); h != nil && !h.expired() {
		return h.session, nil
	}

	h, err := sm.mint(ctx)
	if err != nil {
		return session{}, fmt.Errorf("failed to refresh adapter session: %w", err)
	}
	sm.holder.Store(h)
	return h.session, nil
}

func (sm *sessionManager) mint(ctx context.Context) (*sessionHolder, error) {
	refreshTime := time.Now()
	s, err := sm.create(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionHolder{session: s, refreshTime: refreshTime}, nil
}
