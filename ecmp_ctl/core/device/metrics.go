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
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/device/state"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	deviceStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ecmp_ctl",
			Name:      "device_state",
			Help:      "Lifecycle state of each switch connection (0=Disconnected .. 6=Errored)",
		},
		[]string{"device"},
	)
	entryWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecmp_ctl",
			Name:      "entry_writes_total",
			Help:      "Table entry updates acknowledged by a switch, by update type",
		},
		[]string{"device", "type"},
	)
	entryWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecmp_ctl",
			Name:      "entry_write_failures_total",
			Help:      "Table entry updates rejected by a switch, by status code",
		},
		[]string{"device", "code"},
	)
)

func init() {
	prometheus.MustRegister(deviceStateGauge, entryWrites, entryWriteFailures)
}

func recordState(device string, s state.State) {
	deviceStateGauge.WithLabelValues(device).Set(float64(s))
}
