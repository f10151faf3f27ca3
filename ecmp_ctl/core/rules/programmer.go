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

package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// EntryWriter installs entries on one switch; *device.Agent implements it
type EntryWriter interface {
	Name() string
	WriteEntry(ctx context.Context, entry *p4v1.TableEntry) error
}

// RuleFailure records why one rule of a batch was not installed
type RuleFailure struct {
	Device string
	Index  int
	Rule   Rule
	Table  string
	Err    error
}

func (f *RuleFailure) Error() string {
	return fmt.Sprintf("device=%s rule#%d %s table=%s: %v", f.Device, f.Index, f.Rule, f.Table, f.Err)
}

func (f *RuleFailure) Unwrap() error { return f.Err }

// ApplyResult summarises one batch on one switch
type ApplyResult struct {
	Device    string
	BatchID   string
	Installed int
	Failed    []*RuleFailure
}

// Err returns the first failure, nil when every rule was installed
func (r *ApplyResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return r.Failed[0]
}

// Programmer installs rule batches
type Programmer struct {
	builder *Builder
	lanes   *utils.Lanes
}

// NewProgrammer creates a programmer. maxWorkers bounds how many switches are programmed at
// once in ApplyAll, zero meaning one worker per switch.
func NewProgrammer(builder *Builder, maxWorkers int) *Programmer {
	return &Programmer{builder: builder, lanes: utils.NewLanes(maxWorkers)}
}

// Apply installs rules in order. It is best effort: a rule that cannot be built or written is
// recorded and the batch goes on. Rules sharing a key overwrite each other, last one wins.
func (p *Programmer) Apply(ctx context.Context, w EntryWriter, rules []Rule) *ApplyResult {
	result := &ApplyResult{Device: w.Name(), BatchID: utils.CreateBatchID()}
	logger.Debugw(ctx, "applying-rules", log.Fields{"device": w.Name(), "batch-id": result.BatchID, "rules": len(rules)})

	for i, rule := range rules {
		table := ""
		if tr, err := p.builder.Resolve(rule); err == nil {
			table = tr.Table
		}
		entry, err := p.builder.Build(rule)
		if err == nil {
			err = w.WriteEntry(ctx, entry)
		}
		if err != nil {
			failure := &RuleFailure{Device: w.Name(), Index: i, Rule: rule, Table: table, Err: err}
			logger.Warnw(ctx, "rule-not-installed", log.Fields{"device": w.Name(), "batch-id": result.BatchID, "rule": rule.String(), "table": table, "error": err})
			result.Failed = append(result.Failed, failure)
			continue
		}
		result.Installed++
	}
	logger.Infow(ctx, "rules-applied", log.Fields{"device": w.Name(), "batch-id": result.BatchID, "installed": result.Installed, "failed": len(result.Failed)})
	return result
}

// ApplyAll programs every writer with its own rule list, switches in parallel
func (p *Programmer) ApplyAll(ctx context.Context, writers []EntryWriter, rulesByDevice map[string][]Rule) map[string]*ApplyResult {
	byName := make(map[string]EntryWriter, len(writers))
	names := make([]string, 0, len(writers))
	for _, w := range writers {
		if _, ok := rulesByDevice[w.Name()]; !ok {
			continue
		}
		byName[w.Name()] = w
		names = append(names, w.Name())
	}

	var mutex sync.Mutex
	results := make(map[string]*ApplyResult, len(names))
	p.lanes.Run(names, func(name string) {
		res := p.Apply(ctx, byName[name], rulesByDevice[name])
		mutex.Lock()
		results[name] = res
		mutex.Unlock()
	})
	return results
}
