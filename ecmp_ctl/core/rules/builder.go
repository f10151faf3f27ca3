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
	"fmt"
	"sort"

	"github.com/Ustinaian/P4-final/ecmp_ctl/core/codec"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/schema"
	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// Builder turns rules into P4Runtime table entries
type Builder struct {
	registry *schema.Registry
	mapping  Mapping
}

// NewBuilder creates a builder resolving names against registry
func NewBuilder(registry *schema.Registry, mapping Mapping) *Builder {
	return &Builder{registry: registry, mapping: mapping}
}

// prefixMatch builds the LPM key of a group or route rule. A zero prefix length is only taken
// as a default route when written against 0.0.0.0; on any other address the length was left out.
func prefixMatch(field, prefix string, prefixLen uint32) (codec.LPM, error) {
	if prefixLen == 0 {
		ip, err := codec.ParseIPv4(prefix)
		if err != nil {
			return codec.LPM{}, err
		}
		if !ip.IsUnspecified() {
			return codec.LPM{}, &utils.ValueOutOfRangeError{Field: field, Value: prefix + "/0", BitWidth: 32,
				Reason: "prefix length missing, only 0.0.0.0 may be routed as /0"}
		}
	}
	return codec.LPM{Value: prefix, PrefixLen: prefixLen}, nil
}

// Resolve expresses any rule as the generic TableRule it is written as
func (b *Builder) Resolve(rule Rule) (TableRule, error) {
	m := b.mapping
	switch r := rule.(type) {
	case GroupRule:
		prefix, err := prefixMatch(m.GroupField, r.DstPrefix, r.PrefixLen)
		if err != nil {
			return TableRule{}, err
		}
		return TableRule{
			Table:  m.GroupTable,
			Match:  map[string]interface{}{m.GroupField: prefix},
			Action: m.GroupAction,
			Params: map[string]interface{}{m.GroupBaseParam: r.Base, m.GroupCountParam: r.Count},
		}, nil
	case NextHopRule:
		table := r.Table
		if table == "" {
			table = m.NextHopTable
		}
		return TableRule{
			Table:  table,
			Match:  map[string]interface{}{m.NextHopField: r.Selector},
			Action: m.NextHopAction,
			Params: map[string]interface{}{m.NextHopMACParam: r.DstMAC, m.NextHopIPParam: r.DstIP, m.NextHopPortParam: r.Port},
		}, nil
	case RewriteRule:
		return TableRule{
			Table:  m.RewriteTable,
			Match:  map[string]interface{}{m.RewriteField: r.EgressPort},
			Action: m.RewriteAction,
			Params: map[string]interface{}{m.RewriteMACParam: r.SrcMAC},
		}, nil
	case RouteRule:
		prefix, err := prefixMatch(m.RouteField, r.DstPrefix, r.PrefixLen)
		if err != nil {
			return TableRule{}, err
		}
		return TableRule{
			Table:  m.RouteTable,
			Match:  map[string]interface{}{m.RouteField: prefix},
			Action: m.RouteAction,
			Params: map[string]interface{}{m.RouteMACParam: r.DstMAC, m.RoutePortParam: r.Port},
		}, nil
	case TableRule:
		return r, nil
	case *TableRule:
		return *r, nil
	}
	return TableRule{}, fmt.Errorf("unsupported rule type %T", rule)
}

// Build resolves names and encodes values, returning a fresh entry
func (b *Builder) Build(rule Rule) (*p4v1.TableEntry, error) {
	tr, err := b.Resolve(rule)
	if err != nil {
		return nil, err
	}
	return b.build(tr)
}

func (b *Builder) build(tr TableRule) (*p4v1.TableEntry, error) {
	table, err := b.registry.Table(tr.Table)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(tr.Match) {
		if _, err := table.Field(name); err != nil {
			return nil, err
		}
	}

	entry := &p4v1.TableEntry{TableId: table.ID, Priority: tr.Priority}
	needsPriority := false
	for _, field := range table.MatchFields {
		if field.Kind == schema.MatchTernary || field.Kind == schema.MatchRange || field.Kind == schema.MatchOptional {
			needsPriority = true
		}
		value, ok := tr.Match[field.Name]
		if !ok {
			if field.Kind == schema.MatchExact {
				return nil, &utils.ValueOutOfRangeError{Field: field.Name, BitWidth: field.BitWidth, Reason: "exact match field needs a value"}
			}
			continue
		}
		fm, err := codec.EncodeMatch(field, value)
		if err != nil {
			return nil, err
		}
		if fm != nil {
			entry.Match = append(entry.Match, fm)
		}
	}
	if needsPriority && entry.Priority == 0 {
		entry.Priority = 1
	}

	action, err := b.registry.Action(tr.Action)
	if err != nil {
		return nil, err
	}
	if !table.HasAction(action.ID) {
		return nil, &utils.UnknownEntityError{Kind: utils.KindAction, Name: action.Name, Scope: table.Name}
	}
	for _, name := range sortedKeys(tr.Params) {
		if _, err := action.Param(name); err != nil {
			return nil, err
		}
	}
	act := &p4v1.Action{ActionId: action.ID}
	for _, param := range action.Params {
		value, ok := tr.Params[param.Name]
		if !ok {
			return nil, &utils.ValueOutOfRangeError{Field: param.Name, BitWidth: param.BitWidth, Reason: "missing parameter of " + action.Name}
		}
		ap, err := codec.EncodeParam(param, value)
		if err != nil {
			return nil, err
		}
		act.Params = append(act.Params, ap)
	}
	entry.Action = &p4v1.TableAction{Type: &p4v1.TableAction_Action{Action: act}}
	return entry, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
