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

package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Ustinaian/P4-final/ecmp_ctl/config"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/device"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/inspect"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/rules"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/schema"
	"github.com/Ustinaian/P4-final/ecmp_ctl/topology"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// Core drives one programming pass over the switches of a topology
type Core struct {
	instanceID string
	config     *config.ControllerFlags
	topology   *topology.Topology
	deviceMgr  *device.Manager
	auditSinks []inspect.Sink
	out        io.Writer
}

// Report summarises a programming pass
type Report struct {
	BringUp *device.BringUpResult
	Applied map[string]*rules.ApplyResult
	// Printed counts the entries read back per switch
	Printed map[string]int
}

// NewCore creates a core for the given topology. Read-back lines are written to out.
func NewCore(id string, cf *config.ControllerFlags, topo *topology.Topology, out io.Writer) *Core {
	return &Core{
		instanceID: id,
		config:     cf,
		topology:   topo,
		deviceMgr:  device.NewManager(cf.DeviceOptions(), cf.MaxWorkers, id),
		out:        out,
	}
}

// AddAuditSink registers a sink that receives every entry read back
func (core *Core) AddAuditSink(sink inspect.Sink) {
	core.auditSinks = append(core.auditSinks, sink)
}

// DeviceManager returns the manager of the switches brought up by Run
func (core *Core) DeviceManager() *device.Manager {
	return core.deviceMgr
}

// Run brings the switches up, installs their rules and reads the tables back. Switches are
// always shut down before returning, and the first failure is the error reported.
func (core *Core) Run(ctx context.Context) (*Report, error) {
	logger.Infow(ctx, "starting-programming-pass", log.Fields{"instance-id": core.instanceID, "devices": len(core.topology.Devices)})

	if err := checkFile(core.config.P4InfoFile, "p4info"); err != nil {
		return nil, err
	}
	if err := checkFile(core.config.Bmv2JSONFile, "BMv2 JSON"); err != nil {
		return nil, err
	}
	registry, err := schema.LoadFile(core.config.P4InfoFile)
	if err != nil {
		return nil, err
	}
	deviceConfig, err := os.ReadFile(core.config.Bmv2JSONFile)
	if err != nil {
		return nil, err
	}

	report := &Report{Printed: make(map[string]int)}
	report.BringUp = core.deviceMgr.BringUp(ctx, core.topology.DeviceSpecs(), device.PipelineConfig{
		P4Info:       registry.P4Info(),
		DeviceConfig: deviceConfig,
		Cookie:       core.config.PipelineCookie,
	})
	agents := report.BringUp.Agents()
	defer core.shutdown(ctx, agents)

	var firstErr error
	for _, name := range report.BringUp.Order {
		if ferr, ok := report.BringUp.Failed[name]; ok && firstErr == nil {
			firstErr = fmt.Errorf("device %s: %w", name, ferr)
		}
	}

	writers := make([]rules.EntryWriter, 0, len(agents))
	for _, agent := range agents {
		writers = append(writers, agent)
	}
	programmer := rules.NewProgrammer(rules.NewBuilder(registry, core.topology.EffectiveMapping()), core.config.MaxWorkers)
	report.Applied = programmer.ApplyAll(ctx, writers, core.topology.Rules())
	for _, agent := range agents {
		if result, ok := report.Applied[agent.Name()]; ok && firstErr == nil {
			firstErr = result.Err()
		}
	}

	if core.config.SkipReadBack {
		return report, firstErr
	}
	inspector := inspect.NewInspector(registry)
	for _, agent := range agents {
		count, perr := inspector.Print(ctx, agent, core.out, core.auditSinks...)
		report.Printed[agent.Name()] = count
		if perr != nil {
			logger.Errorw(ctx, "read-back-failed", log.Fields{"device": agent.Name(), "error": perr})
			if firstErr == nil {
				firstErr = fmt.Errorf("device %s: %w", agent.Name(), perr)
			}
		}
	}
	return report, firstErr
}

// shutdown outlives the cancellation of ctx so a cancelled run still releases the switches
func (core *Core) shutdown(parent context.Context, agents []*device.Agent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), core.config.RPCTimeout)
	defer cancel()
	for _, err := range core.deviceMgr.ShutdownAll(ctx, agents) {
		logger.Warnw(ctx, "device-shutdown-failed", log.Fields{"error": err})
	}
	logger.Info(ctx, "devices-shut-down")
}

func checkFile(path, what string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s file not found: %s, have you compiled the P4 program? %w", what, path, err)
	}
	return nil
}
