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

package mocks

import (
	_ "embed"

	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
)

//go:embed load_balance.p4info.txt
var loadBalanceP4Info []byte

// LoadBalanceP4InfoText returns the text form of the ECMP load balancing program's P4Info
func LoadBalanceP4InfoText() []byte {
	return append([]byte(nil), loadBalanceP4Info...)
}

// LoadBalanceP4Info returns a fresh decoded copy of the ECMP load balancing program's P4Info
func LoadBalanceP4Info() *configv1.P4Info {
	info := &configv1.P4Info{}
	if err := prototext.Unmarshal(loadBalanceP4Info, info); err != nil {
		panic(err)
	}
	return info
}

// LoadBalanceDeviceConfig stands in for the BMv2 JSON produced by the compiler
func LoadBalanceDeviceConfig() []byte {
	return []byte(`{"program": "load_balance.p4", "__meta__": {"version": [2, 23]}}`)
}
