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

	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// State is the lifecycle state of a switch connection
type State int32

const (
	Disconnected State = iota
	Connected
	MasterElected
	PipelineConfigured
	Programmed
	Closed
	Errored

	// anyState matches every state in the transition table
	anyState State = -1
)

var names = map[State]string{
	Disconnected:       "Disconnected",
	Connected:          "Connected",
	MasterElected:      "MasterElected",
	PipelineConfigured: "PipelineConfigured",
	Programmed:         "Programmed",
	Closed:             "Closed",
	Errored:            "Errored",
}

func (s State) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return "Unknown"
}

// AtLeast reports whether s has progressed to r or beyond on the bring-up path
func (s State) AtLeast(r State) bool {
	return s >= r && s <= Programmed
}

// Terminal reports whether no further transition may leave s except Close
func (s State) Terminal() bool {
	return s == Closed || s == Errored
}

type transition struct {
	previous State
	current  State
}

// TransitionMap holds the allowed lifecycle transitions
type TransitionMap struct {
	transitions []transition
}

// NewTransitionMap creates the transition table
func NewTransitionMap() *TransitionMap {
	return &TransitionMap{
		transitions: []transition{
			{previous: Disconnected, current: Connected},
			{previous: Connected, current: MasterElected},
			{previous: MasterElected, current: PipelineConfigured},
			{previous: PipelineConfigured, current: Programmed},
			// a pipeline push wipes installed entries
			{previous: Programmed, current: PipelineConfigured},
			{previous: Disconnected, current: Errored},
			{previous: Connected, current: Errored},
			{previous: MasterElected, current: Errored},
			{previous: PipelineConfigured, current: Errored},
			{previous: Programmed, current: Errored},
			{previous: anyState, current: Closed},
		},
	}
}

// IsValid reports whether the connection may move from previous to current. Staying in the
// same state is always allowed except out of Closed.
func (m *TransitionMap) IsValid(ctx context.Context, previous, current State) bool {
	if previous == current {
		return true
	}
	if previous == Closed {
		return false
	}
	for _, t := range m.transitions {
		if (t.previous == anyState || t.previous == previous) && t.current == current {
			return true
		}
	}
	logger.Debugw(ctx, "invalid-transition", log.Fields{"previous": previous.String(), "current": current.String()})
	return false
}
