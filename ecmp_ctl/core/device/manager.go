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
	"sort"
	"sync"

	"github.com/Ustinaian/P4-final/ecmp_ctl/core/device/state"
	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-lib-go/v7/pkg/probe"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Manager brings switches up and keeps the agents of those that made it
type Manager struct {
	deviceAgents     sync.Map
	options          Options
	stateTransitions *state.TransitionMap
	lanes            *utils.Lanes
	instanceID       string
}

// NewManager creates a manager. maxWorkers bounds how many switches are brought up at once,
// zero meaning one worker per switch.
func NewManager(options Options, maxWorkers int, instanceID string) *Manager {
	return &Manager{
		options:          options,
		stateTransitions: state.NewTransitionMap(),
		lanes:            utils.NewLanes(maxWorkers),
		instanceID:       instanceID,
	}
}

// BringUpResult splits the requested switches into those ready for programming and those
// that failed along with the reason
type BringUpResult struct {
	Ready  map[string]*Agent
	Failed map[string]error
	// Order keeps the names in the order they were first requested, each once
	Order []string

	mutex sync.Mutex
}

func (r *BringUpResult) ready(agent *Agent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Ready[agent.Name()] = agent
}

func (r *BringUpResult) failed(name string, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.Failed[name] = err
}

// Agents returns the ready agents in request order
func (r *BringUpResult) Agents() []*Agent {
	agents := make([]*Agent, 0, len(r.Ready))
	for _, name := range r.Order {
		if agent, ok := r.Ready[name]; ok {
			agents = append(agents, agent)
		}
	}
	return agents
}

func (dMgr *Manager) addDeviceAgentToMap(agent *Agent) bool {
	_, loaded := dMgr.deviceAgents.LoadOrStore(agent.Name(), agent)
	return !loaded
}

func (dMgr *Manager) deleteDeviceAgentFromMap(agent *Agent) {
	if current, ok := dMgr.deviceAgents.Load(agent.Name()); ok && current.(*Agent) == agent {
		dMgr.deviceAgents.Delete(agent.Name())
	}
}

// Get returns the agent of a switch that was brought up
func (dMgr *Manager) Get(name string) (*Agent, bool) {
	agent, ok := dMgr.deviceAgents.Load(name)
	if !ok {
		return nil, false
	}
	return agent.(*Agent), true
}

// List returns every managed agent ordered by name
func (dMgr *Manager) List() []*Agent {
	var agents []*Agent
	dMgr.deviceAgents.Range(func(key, value interface{}) bool {
		agents = append(agents, value.(*Agent))
		return true
	})
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name() < agents[j].Name() })
	return agents
}

// BringUp connects, elects mastership and pushes the pipeline on every switch. Switches are
// independent: one failing is closed and reported without affecting the others.
func (dMgr *Manager) BringUp(ctx context.Context, specs []DeviceSpec, pipeline PipelineConfig) *BringUpResult {
	result := &BringUpResult{
		Ready:  make(map[string]*Agent),
		Failed: make(map[string]error),
	}

	// a name listed more than once is ambiguous, none of its copies is brought up
	listed := make(map[string]int, len(specs))
	for _, spec := range specs {
		if listed[spec.Name]++; listed[spec.Name] == 1 {
			result.Order = append(result.Order, spec.Name)
		}
	}

	agents := make(map[string]*Agent, len(specs))
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		if listed[spec.Name] > 1 {
			if _, reported := result.Failed[spec.Name]; !reported {
				logger.Errorw(ctx, "device-listed-twice", log.Fields{"device": spec.Name, "count": listed[spec.Name]})
				result.Failed[spec.Name] = status.Errorf(codes.AlreadyExists, "device %s listed %d times", spec.Name, listed[spec.Name])
			}
			continue
		}
		agent := newAgent(spec, dMgr.options, dMgr.stateTransitions)
		if !dMgr.addDeviceAgentToMap(agent) {
			result.Failed[spec.Name] = status.Errorf(codes.AlreadyExists, "device %s already managed", spec.Name)
			continue
		}
		agents[spec.Name] = agent
		names = append(names, spec.Name)
	}
	if p := probe.GetProbeFromContext(ctx); p != nil && len(names) > 0 {
		p.RegisterService(ctx, names...)
	}

	logger.Infow(ctx, "bringing-up-devices", log.Fields{"devices": names, "instance-id": dMgr.instanceID})
	dMgr.lanes.Run(names, func(name string) {
		agent := agents[name]
		if err := dMgr.bringUpDevice(ctx, agent, pipeline); err != nil {
			logger.Errorw(ctx, "device-bring-up-failed", log.Fields{"device": name, "state": agent.State().String(), "error": err})
			if cerr := agent.Close(ctx); cerr != nil {
				logger.Warnw(ctx, "device-close-failed", log.Fields{"device": name, "error": cerr})
			}
			dMgr.deleteDeviceAgentFromMap(agent)
			probe.UpdateStatusFromContext(ctx, name, probe.ServiceStatusFailed)
			result.failed(name, err)
			return
		}
		probe.UpdateStatusFromContext(ctx, name, probe.ServiceStatusRunning)
		result.ready(agent)
	})
	logger.Infow(ctx, "devices-brought-up", log.Fields{"ready": len(result.Ready), "failed": len(result.Failed)})
	return result
}

func (dMgr *Manager) bringUpDevice(ctx context.Context, agent *Agent, pipeline PipelineConfig) error {
	probe.UpdateStatusFromContext(ctx, agent.Name(), probe.ServiceStatusPreparing)
	if err := agent.Connect(ctx); err != nil {
		return err
	}

	subCtx, cancel := context.WithTimeout(ctx, dMgr.options.RPCTimeout)
	defer cancel()
	if err := agent.ElectMastership(subCtx); err != nil {
		return err
	}
	probe.UpdateStatusFromContext(ctx, agent.Name(), probe.ServiceStatusPrepared)

	pushCtx, pushCancel := context.WithTimeout(ctx, dMgr.options.RPCTimeout)
	defer pushCancel()
	return agent.PushPipeline(pushCtx, pipeline)
}

// ShutdownAll closes every given agent whatever its state and forgets it. The returned errors
// are those of the closes that failed.
func (dMgr *Manager) ShutdownAll(ctx context.Context, agents []*Agent) []error {
	var errs []error
	for _, agent := range agents {
		if err := agent.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		dMgr.deleteDeviceAgentFromMap(agent)
		probe.UpdateStatusFromContext(ctx, agent.Name(), probe.ServiceStatusStopped)
	}
	return errs
}

// Shutdown closes every managed agent
func (dMgr *Manager) Shutdown(ctx context.Context) []error {
	return dMgr.ShutdownAll(ctx, dMgr.List())
}
