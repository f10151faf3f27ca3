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
	"strings"
)

// Rule is one declarative forwarding rule. The concrete types are GroupRule, NextHopRule,
// RewriteRule, RouteRule and TableRule.
type Rule interface {
	fmt.Stringer
	isRule()
}

// GroupRule selects an ECMP group for a destination prefix
type GroupRule struct {
	DstPrefix string `toml:"dst_prefix"`
	PrefixLen uint32 `toml:"prefix_len"`
	Base      uint64 `toml:"base"`
	Count     uint64 `toml:"count"`
}

// NextHopRule maps an ECMP selector to a next hop. Table picks one of several next-hop
// tables; empty means the mapping's default.
type NextHopRule struct {
	Table    string `toml:"table"`
	Selector uint64 `toml:"selector"`
	DstMAC   string `toml:"dst_mac"`
	DstIP    string `toml:"dst_ip"`
	Port     uint64 `toml:"port"`
}

// RewriteRule sets the source MAC of frames leaving a port
type RewriteRule struct {
	EgressPort uint64 `toml:"egress_port"`
	SrcMAC     string `toml:"src_mac"`
}

// RouteRule forwards a destination prefix straight to a port
type RouteRule struct {
	DstPrefix string `toml:"dst_prefix"`
	PrefixLen uint32 `toml:"prefix_len"`
	DstMAC    string `toml:"dst_mac"`
	Port      uint64 `toml:"port"`
}

// TableRule addresses any table by name. Match values follow codec.EncodeMatch, so LPM
// fields take "a.b.c.d/len" strings or codec.LPM values.
type TableRule struct {
	Table    string                 `toml:"table"`
	Match    map[string]interface{} `toml:"match"`
	Action   string                 `toml:"action"`
	Params   map[string]interface{} `toml:"params"`
	Priority int32                  `toml:"priority"`
}

func (GroupRule) isRule()   {}
func (NextHopRule) isRule() {}
func (RewriteRule) isRule() {}
func (RouteRule) isRule()   {}
func (TableRule) isRule()   {}

func (r GroupRule) String() string {
	return fmt.Sprintf("group(dst=%s/%d base=%d count=%d)", r.DstPrefix, r.PrefixLen, r.Base, r.Count)
}

func (r NextHopRule) String() string {
	table := r.Table
	if table == "" {
		table = "default"
	}
	return fmt.Sprintf("next-hop(table=%s selector=%d dmac=%s dip=%s port=%d)", table, r.Selector, r.DstMAC, r.DstIP, r.Port)
}

func (r RewriteRule) String() string {
	return fmt.Sprintf("rewrite(port=%d smac=%s)", r.EgressPort, r.SrcMAC)
}

func (r RouteRule) String() string {
	return fmt.Sprintf("route(dst=%s/%d dmac=%s port=%d)", r.DstPrefix, r.PrefixLen, r.DstMAC, r.Port)
}

func (r TableRule) String() string {
	return fmt.Sprintf("%s(%s) -> %s(%s)", r.Table, renderArgs(r.Match), r.Action, renderArgs(r.Params))
}

func renderArgs(args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, " ")
}
