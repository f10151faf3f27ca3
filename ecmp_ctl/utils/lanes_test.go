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
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func deviceNames(n int) []string {
	names := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		names = append(names, fmt.Sprintf("s%d", i))
	}
	return names
}

func TestLanesOneWorkerPerKey(t *testing.T) {
	groups := NewLanes(0).Assign(deviceNames(6))
	assert.Len(t, groups, 6)
	for _, g := range groups {
		assert.Len(t, g, 1)
	}
}

func TestLanesBoundedAssignmentIsStable(t *testing.T) {
	keys := deviceNames(40)
	first := NewLanes(4).Assign(keys)
	second := NewLanes(4).Assign(keys)
	assert.LessOrEqual(t, len(first), 4)
	assert.Equal(t, first, second)

	var all []string
	for _, g := range first {
		all = append(all, g...)
	}
	sort.Strings(all)
	expected := append([]string(nil), keys...)
	sort.Strings(expected)
	assert.Equal(t, expected, all)
}

func TestLanesRunVisitsEveryKey(t *testing.T) {
	keys := deviceNames(25)
	var mu sync.Mutex
	seen := make(map[string]int)
	NewLanes(3).Run(keys, func(k string) {
		mu.Lock()
		seen[k]++
		mu.Unlock()
	})
	assert.Len(t, seen, len(keys))
	for _, k := range keys {
		assert.Equal(t, 1, seen[k])
	}
}
