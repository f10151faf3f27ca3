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

// Package topology reads the declarative controller input: the switches to program and the
// rules each of them receives.
package topology

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/device"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/rules"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// Rule kinds accepted in a [[devices.rules]] entry
const (
	KindGroup   = "group"
	KindNextHop = "next_hop"
	KindRewrite = "rewrite"
	KindRoute   = "route"
	KindTable   = "table"
)

// RuleSpec is one [[devices.rules]] entry. Kind selects which of the fields apply.
type RuleSpec struct {
	Kind string `toml:"kind"`

	DstPrefix  string `toml:"dst_prefix"`
	PrefixLen  uint32 `toml:"prefix_len"`
	Base       uint64 `toml:"base"`
	Count      uint64 `toml:"count"`
	Selector   uint64 `toml:"selector"`
	DstMAC     string `toml:"dst_mac"`
	DstIP      string `toml:"dst_ip"`
	Port       uint64 `toml:"port"`
	EgressPort uint64 `toml:"egress_port"`
	SrcMAC     string `toml:"src_mac"`

	Table    string                 `toml:"table"`
	Match    map[string]interface{} `toml:"match"`
	Action   string                 `toml:"action"`
	Params   map[string]interface{} `toml:"params"`
	Priority int32                  `toml:"priority"`
}

// Rule converts the entry into its typed form
func (r RuleSpec) Rule() (rules.Rule, error) {
	switch r.Kind {
	case KindGroup:
		return rules.GroupRule{DstPrefix: r.DstPrefix, PrefixLen: r.PrefixLen, Base: r.Base, Count: r.Count}, nil
	case KindNextHop:
		return rules.NextHopRule{Table: r.Table, Selector: r.Selector, DstMAC: r.DstMAC, DstIP: r.DstIP, Port: r.Port}, nil
	case KindRewrite:
		return rules.RewriteRule{EgressPort: r.EgressPort, SrcMAC: r.SrcMAC}, nil
	case KindRoute:
		return rules.RouteRule{DstPrefix: r.DstPrefix, PrefixLen: r.PrefixLen, DstMAC: r.DstMAC, Port: r.Port}, nil
	case KindTable:
		if r.Table == "" || r.Action == "" {
			return nil, fmt.Errorf("table rule needs both table and action")
		}
		return rules.TableRule{Table: r.Table, Match: r.Match, Action: r.Action, Params: r.Params, Priority: r.Priority}, nil
	}
	return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
}

// Device is one [[devices]] entry
type Device struct {
	Name           string     `toml:"name"`
	Address        string     `toml:"address"`
	DeviceID       uint64     `toml:"device_id"`
	ElectionIDHigh uint64     `toml:"election_id_high"`
	ElectionIDLow  uint64     `toml:"election_id_low"`
	Rules          []RuleSpec `toml:"rules"`
}

// Topology is the parsed topology file
type Topology struct {
	Mapping rules.Mapping `toml:"mapping"`
	Devices []Device      `toml:"devices"`
}

// LoadFile reads and validates a topology file
func LoadFile(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	topo, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Infow(context.Background(), "topology-loaded", log.Fields{"path": path, "devices": len(topo.Devices)})
	return topo, nil
}

// Parse decodes a topology document. Unknown keys are rejected so typos do not silently drop rules.
func Parse(doc string) (*Topology, error) {
	var topo Topology
	md, err := toml.Decode(doc, &topo)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown topology key %q", undecoded[0].String())
	}
	if err := topo.validate(); err != nil {
		return nil, err
	}
	return &topo, nil
}

func (t *Topology) validate() error {
	names := make(map[string]struct{}, len(t.Devices))
	for i, d := range t.Devices {
		if d.Name == "" {
			return fmt.Errorf("device %d has no name", i)
		}
		if _, ok := names[d.Name]; ok {
			return fmt.Errorf("device %q listed twice", d.Name)
		}
		names[d.Name] = struct{}{}
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			return fmt.Errorf("device %q: %w", d.Name, err)
		}
		for j, r := range d.Rules {
			if _, err := r.Rule(); err != nil {
				return fmt.Errorf("device %q rule %d: %w", d.Name, j, err)
			}
		}
	}
	return nil
}

// DeviceSpecs returns the switches in file order. A device without an election id of its own
// is left to the controller-wide one.
func (t *Topology) DeviceSpecs() []device.DeviceSpec {
	specs := make([]device.DeviceSpec, 0, len(t.Devices))
	for _, d := range t.Devices {
		spec := device.DeviceSpec{Name: d.Name, Address: d.Address, DeviceID: d.DeviceID}
		if d.ElectionIDHigh != 0 || d.ElectionIDLow != 0 {
			spec.ElectionID = &p4v1.Uint128{High: d.ElectionIDHigh, Low: d.ElectionIDLow}
		}
		specs = append(specs, spec)
	}
	return specs
}

// Rules returns each device's rules in file order, keyed by device name
func (t *Topology) Rules() map[string][]rules.Rule {
	byDevice := make(map[string][]rules.Rule, len(t.Devices))
	for _, d := range t.Devices {
		rs := make([]rules.Rule, 0, len(d.Rules))
		for _, spec := range d.Rules {
			// validated on load
			r, _ := spec.Rule()
			rs = append(rs, r)
		}
		byDevice[d.Name] = rs
	}
	return byDevice
}

// EffectiveMapping fills the names the file leaves out with the load_balance defaults
func (t *Topology) EffectiveMapping() rules.Mapping {
	return t.Mapping.Merge(rules.DefaultMapping())
}
