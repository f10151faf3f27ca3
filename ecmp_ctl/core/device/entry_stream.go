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

package device

import (
	"context"
	"io"
	"sync"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// EntryStream yields the entries of a Read as the switch sends them. Recv returns io.EOF once
// the switch has sent everything. Calling ReadEntries again restarts from the beginning.
type EntryStream struct {
	agent   *Agent
	ctx     context.Context
	stream  p4v1.P4Runtime_ReadClient
	cancel  context.CancelFunc
	pending []*p4v1.TableEntry
	err     error
	once    sync.Once
}

// Device names the switch the entries come from
func (s *EntryStream) Device() string {
	return s.agent.Name()
}

// Recv returns the next entry
func (s *EntryStream) Recv() (*p4v1.TableEntry, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		resp, err := s.stream.Recv()
		if err == io.EOF {
			s.finish(io.EOF)
			return nil, io.EOF
		}
		if err != nil {
			s.finish(s.agent.classify(s.ctx, "read-entries", err))
			return nil, s.err
		}
		for _, e := range resp.GetEntities() {
			if te := e.GetTableEntry(); te != nil {
				s.pending = append(s.pending, te)
			}
		}
	}
	te := s.pending[0]
	s.pending = s.pending[1:]
	return te, nil
}

// Close abandons the read and releases the device
func (s *EntryStream) Close() error {
	s.finish(io.EOF)
	return nil
}

func (s *EntryStream) finish(err error) {
	s.once.Do(func() {
		s.err = err
		s.pending = nil
		s.cancel()
		s.agent.requestQueue.RequestComplete()
	})
}
