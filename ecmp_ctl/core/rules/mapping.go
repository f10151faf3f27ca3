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

// Mapping names the tables, actions, key fields and parameters each rule kind is written to
type Mapping struct {
	GroupTable      string `toml:"group_table"`
	GroupField      string `toml:"group_field"`
	GroupAction     string `toml:"group_action"`
	GroupBaseParam  string `toml:"group_base_param"`
	GroupCountParam string `toml:"group_count_param"`

	NextHopTable     string `toml:"next_hop_table"`
	NextHopField     string `toml:"next_hop_field"`
	NextHopAction    string `toml:"next_hop_action"`
	NextHopMACParam  string `toml:"next_hop_mac_param"`
	NextHopIPParam   string `toml:"next_hop_ip_param"`
	NextHopPortParam string `toml:"next_hop_port_param"`

	RewriteTable    string `toml:"rewrite_table"`
	RewriteField    string `toml:"rewrite_field"`
	RewriteAction   string `toml:"rewrite_action"`
	RewriteMACParam string `toml:"rewrite_mac_param"`

	RouteTable     string `toml:"route_table"`
	RouteField     string `toml:"route_field"`
	RouteAction    string `toml:"route_action"`
	RouteMACParam  string `toml:"route_mac_param"`
	RoutePortParam string `toml:"route_port_param"`
}

// DefaultMapping returns the names used by the load_balance P4 program
func DefaultMapping() Mapping {
	return Mapping{
		GroupTable:      "MyIngress.ecmp_group",
		GroupField:      "hdr.ipv4.dstAddr",
		GroupAction:     "MyIngress.set_ecmp_select",
		GroupBaseParam:  "ecmp_base",
		GroupCountParam: "ecmp_count",

		NextHopTable:     "MyIngress.ecmp_nhop",
		NextHopField:     "meta.ecmp_select",
		NextHopAction:    "MyIngress.set_nhop",
		NextHopMACParam:  "nhop_dmac",
		NextHopIPParam:   "nhop_ipv4",
		NextHopPortParam: "port",

		RewriteTable:    "MyEgress.send_frame",
		RewriteField:    "standard_metadata.egress_port",
		RewriteAction:   "MyEgress.rewrite_mac",
		RewriteMACParam: "smac",

		RouteTable:     "MyIngress.ipv4_lpm",
		RouteField:     "hdr.ipv4.dstAddr",
		RouteAction:    "MyIngress.ipv4_forward",
		RouteMACParam:  "dstAddr",
		RoutePortParam: "port",
	}
}

// Merge returns m with every empty name taken from defaults
func (m Mapping) Merge(defaults Mapping) Mapping {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Mapping{
		GroupTable:       pick(m.GroupTable, defaults.GroupTable),
		GroupField:       pick(m.GroupField, defaults.GroupField),
		GroupAction:      pick(m.GroupAction, defaults.GroupAction),
		GroupBaseParam:   pick(m.GroupBaseParam, defaults.GroupBaseParam),
		GroupCountParam:  pick(m.GroupCountParam, defaults.GroupCountParam),
		NextHopTable:     pick(m.NextHopTable, defaults.NextHopTable),
		NextHopField:     pick(m.NextHopField, defaults.NextHopField),
		NextHopAction:    pick(m.NextHopAction, defaults.NextHopAction),
		NextHopMACParam:  pick(m.NextHopMACParam, defaults.NextHopMACParam),
		NextHopIPParam:   pick(m.NextHopIPParam, defaults.NextHopIPParam),
		NextHopPortParam: pick(m.NextHopPortParam, defaults.NextHopPortParam),
		RewriteTable:     pick(m.RewriteTable, defaults.RewriteTable),
		RewriteField:     pick(m.RewriteField, defaults.RewriteField),
		RewriteAction:    pick(m.RewriteAction, defaults.RewriteAction),
		RewriteMACParam:  pick(m.RewriteMACParam, defaults.RewriteMACParam),
		RouteTable:       pick(m.RouteTable, defaults.RouteTable),
		RouteField:       pick(m.RouteField, defaults.RouteField),
		RouteAction:      pick(m.RouteAction, defaults.RouteAction),
		RouteMACParam:    pick(m.RouteMACParam, defaults.RouteMACParam),
		RoutePortParam:   pick(m.RoutePortParam, defaults.RoutePortParam),
	}
}
