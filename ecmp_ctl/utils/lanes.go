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
	"strconv"
	"sync"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash"
)

const (
	// Keys are distributed among partitions. Prime numbers are good to distribute keys uniformly.
	DefaultPartitionCount = 1117

	// Represents how many times a lane is replicated on the consistent ring.
	DefaultReplicationFactor = 117

	// Load is used to calculate average load.
	DefaultLoad = 1.1
)

// The consistent package requires a hasher function
type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

type lane int

func (l lane) String() string {
	return "lane-" + strconv.Itoa(int(l))
}

// Lanes pins keys (device names) onto a bounded set of worker lanes. A key always lands on the same lane,
// so work for one device never runs on two workers at once while independent devices proceed in parallel.
type Lanes struct {
	ring  *consistent.Consistent
	count int
}

// NewLanes creates a lane set with the given number of workers.  A count <= 0 means one worker per key.
func NewLanes(count int) *Lanes {
	l := &Lanes{count: count}
	if count <= 0 {
		return l
	}
	members := make([]consistent.Member, 0, count)
	for i := 0; i < count; i++ {
		members = append(members, lane(i))
	}
	l.ring = consistent.New(members, consistent.Config{
		PartitionCount:    DefaultPartitionCount,
		ReplicationFactor: DefaultReplicationFactor,
		Load:              DefaultLoad,
		Hasher:            hasher{},
	})
	return l
}

// Assign groups keys by lane, keeping the relative order of keys within a lane
func (l *Lanes) Assign(keys []string) [][]string {
	if l.ring == nil || l.count >= len(keys) {
		out := make([][]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, []string{k})
		}
		return out
	}
	byLane := make(map[string][]string)
	order := make([]string, 0, l.count)
	for _, k := range keys {
		owner := l.ring.LocateKey([]byte(k)).String()
		if _, ok := byLane[owner]; !ok {
			order = append(order, owner)
		}
		byLane[owner] = append(byLane[owner], k)
	}
	out := make([][]string, 0, len(order))
	for _, owner := range order {
		out = append(out, byLane[owner])
	}
	return out
}

// Run invokes fn once per key; keys sharing a lane run sequentially, lanes run concurrently.
// Run returns when every key has been processed.
func (l *Lanes) Run(keys []string, fn func(key string)) {
	var wg sync.WaitGroup
	for _, group := range l.Assign(keys) {
		wg.Add(1)
		go func(group []string) {
			defer wg.Done()
			for _, k := range group {
				fn(k)
			}
		}(group)
	}
	wg.Wait()
}
