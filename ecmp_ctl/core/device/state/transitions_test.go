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

package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

var transitionMap = NewTransitionMap()

func TestBringUpPath(t *testing.T) {
	ctx := context.Background()
	path := []State{Disconnected, Connected, MasterElected, PipelineConfigured, Programmed, Closed}
	for i := 1; i < len(path); i++ {
		assert.True(t, transitionMap.IsValid(ctx, path[i-1], path[i]), "%s -> %s", path[i-1], path[i])
	}
}

func TestNoSkippingSteps(t *testing.T) {
	ctx := context.Background()
	assert.False(t, transitionMap.IsValid(ctx, Disconnected, MasterElected))
	assert.False(t, transitionMap.IsValid(ctx, Connected, PipelineConfigured))
	assert.False(t, transitionMap.IsValid(ctx, MasterElected, Programmed))
	assert.False(t, transitionMap.IsValid(ctx, PipelineConfigured, Connected))
}

func TestErroredIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	for _, s := range []State{Disconnected, Connected, MasterElected, PipelineConfigured, Programmed} {
		assert.True(t, transitionMap.IsValid(ctx, s, Errored), s.String())
	}
	for _, s := range []State{Disconnected, Connected, MasterElected, PipelineConfigured, Programmed} {
		assert.False(t, transitionMap.IsValid(ctx, Errored, s), s.String())
	}
	assert.True(t, transitionMap.IsValid(ctx, Errored, Closed))
	assert.False(t, transitionMap.IsValid(ctx, Closed, Errored))
}

func TestCloseFromAnyState(t *testing.T) {
	ctx := context.Background()
	for s := range names {
		assert.True(t, transitionMap.IsValid(ctx, s, Closed), s.String())
	}
	assert.False(t, transitionMap.IsValid(ctx, Closed, Connected))
}

func TestAtLeast(t *testing.T) {
	assert.True(t, Programmed.AtLeast(PipelineConfigured))
	assert.True(t, MasterElected.AtLeast(MasterElected))
	assert.False(t, Connected.AtLeast(MasterElected))
	assert.False(t, Errored.AtLeast(Connected))
	assert.False(t, Closed.AtLeast(Disconnected))
	assert.Equal(t, "PipelineConfigured", PipelineConfigured.String())
	assert.Equal(t, "Unknown", State(42).String())
}

func TestWildcardIsNotAState(t *testing.T) {
	ctx := context.Background()
	var wildcard any = anyState
	assert.Equal(t, State(-1), wildcard)
	assert.Equal(t, "Unknown", anyState.String())
	assert.False(t, transitionMap.IsValid(ctx, anyState, Connected))
	assert.True(t, transitionMap.IsValid(ctx, anyState, Closed))
}
