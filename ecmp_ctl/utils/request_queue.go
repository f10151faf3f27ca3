/*
 * Copyright 2024-present Open Networking Foundation
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"context"
	"sync"
)

// request is one queued operation. notifyOnComplete is closed when it releases the queue.
type request struct {
	prev, next       *request
	notifyOnComplete chan<- struct{}
}

// RequestQueue hands out exclusive, strictly FIFO access to a device. An operation runs to completion
// before the next queued operation is let through, which keeps writes on one P4Runtime session in
// submission order.
type RequestQueue struct {
	mutex sync.Mutex

	last, current  *request
	lastCompleteCh <-chan struct{}
}

// NewRequestQueue creates an idle request queue
func NewRequestQueue() *RequestQueue {
	ch := make(chan struct{})
	close(ch)
	return &RequestQueue{lastCompleteCh: ch}
}

// WaitForGreenLight blocks until every operation queued before the caller has completed, or until ctx is done.
// On success the caller owns the queue and must call RequestComplete exactly once.
func (rq *RequestQueue) WaitForGreenLight(ctx context.Context) error {
	rq.mutex.Lock()
	waitingOn := rq.lastCompleteCh
	ch := make(chan struct{})
	rq.lastCompleteCh = ch
	r := &request{notifyOnComplete: ch}
	if rq.last != nil {
		rq.last.next, r.prev = r, rq.last
	}
	rq.last = r
	rq.mutex.Unlock()

	select {
	case <-waitingOn:
		rq.mutex.Lock()
		rq.current = r
		rq.mutex.Unlock()
		return nil
	case <-ctx.Done():
	}

	rq.mutex.Lock()
	defer rq.mutex.Unlock()
	select {
	case <-waitingOn:
		// our turn arrived together with the cancellation: take it and hand it on at once
		rq.current = r
		rq.releaseWithoutLock()
	default:
		// leave the queue; whoever waits on us now waits on our predecessor
		r.prev.notifyOnComplete = r.notifyOnComplete
		if r.next != nil {
			r.prev.next = r.next
			r.next.prev = r.prev
		} else {
			rq.last = r.prev
			r.prev.next = nil
		}
	}
	return ctx.Err()
}

// RequestComplete releases the queue to the next waiting operation
func (rq *RequestQueue) RequestComplete() {
	rq.mutex.Lock()
	defer rq.mutex.Unlock()
	rq.releaseWithoutLock()
}

// Do runs fn while holding the queue
func (rq *RequestQueue) Do(ctx context.Context, fn func() error) error {
	if err := rq.WaitForGreenLight(ctx); err != nil {
		return err
	}
	defer rq.RequestComplete()
	return fn()
}

func (rq *RequestQueue) releaseWithoutLock() {
	// closing twice panics, which flags a double release
	close(rq.current.notifyOnComplete)
	if rq.current.next != nil {
		rq.current.next.prev = nil
	}
}
