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

package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/Ustinaian/P4-final/ecmp_ctl/core/device"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// ECMP controller default constants
const (
	defaultP4InfoFile              = "./build/load_balance.p4.p4info.txt"
	defaultBmv2JSONFile            = "./build/load_balance.json"
	defaultTopologyFile            = "./topology.toml"
	defaultPipelineCookie          = uint64(0)
	defaultElectionIDHigh          = uint64(0)
	defaultElectionIDLow           = uint64(1)
	defaultConnectTimeout          = 5 * time.Second
	defaultRPCTimeout              = 10 * time.Second
	defaultMaxConnectionRetries    = 3
	defaultConnectionRetryInterval = 500 * time.Millisecond
	defaultKeepAliveInterval       = 30 * time.Second
	defaultMaxWorkers              = 0 // one worker per device
	defaultProtoDumpDir            = "logs"
	defaultSkipReadBack            = false
	defaultAuditKafkaBrokers       = ""
	defaultAuditKafkaTopic         = "ecmp-ctl.audit"
	defaultLogLevel                = "WARN"
	defaultBanner                  = false
	defaultDisplayVersionOnly      = false
	defaultProbeAddress            = ":8080"
	defaultMetricsAddress          = ":8081"
	defaultTraceEnabled            = false
	defaultTraceAgentAddress       = "127.0.0.1:6831"
	defaultLogCorrelationEnabled   = true
)

// ControllerFlags represents the set of configurations used by the ECMP controller
type ControllerFlags struct {
	// Command line parameters
	P4InfoFile              string
	Bmv2JSONFile            string
	TopologyFile            string
	PipelineCookie          uint64
	ElectionIDHigh          uint64
	ElectionIDLow           uint64
	ConnectTimeout          time.Duration
	RPCTimeout              time.Duration
	MaxConnectionRetries    int
	ConnectionRetryInterval time.Duration
	KeepAliveInterval       time.Duration
	MaxWorkers              int
	ProtoDumpDir            string
	SkipReadBack            bool
	AuditKafkaBrokers       string
	AuditKafkaTopic         string
	LogLevel                string
	Banner                  bool
	DisplayVersionOnly      bool
	ProbeAddress            string
	MetricsAddress          string
	TraceEnabled            bool
	TraceAgentAddress       string
	LogCorrelationEnabled   bool
}

// NewControllerFlags returns a new controller config
func NewControllerFlags() *ControllerFlags {
	var controllerFlags = ControllerFlags{ // Default values
		P4InfoFile:              defaultP4InfoFile,
		Bmv2JSONFile:            defaultBmv2JSONFile,
		TopologyFile:            defaultTopologyFile,
		PipelineCookie:          defaultPipelineCookie,
		ElectionIDHigh:          defaultElectionIDHigh,
		ElectionIDLow:           defaultElectionIDLow,
		ConnectTimeout:          defaultConnectTimeout,
		RPCTimeout:              defaultRPCTimeout,
		MaxConnectionRetries:    defaultMaxConnectionRetries,
		ConnectionRetryInterval: defaultConnectionRetryInterval,
		KeepAliveInterval:       defaultKeepAliveInterval,
		MaxWorkers:              defaultMaxWorkers,
		ProtoDumpDir:            defaultProtoDumpDir,
		SkipReadBack:            defaultSkipReadBack,
		AuditKafkaBrokers:       defaultAuditKafkaBrokers,
		AuditKafkaTopic:         defaultAuditKafkaTopic,
		LogLevel:                defaultLogLevel,
		Banner:                  defaultBanner,
		DisplayVersionOnly:      defaultDisplayVersionOnly,
		ProbeAddress:            defaultProbeAddress,
		MetricsAddress:          defaultMetricsAddress,
		TraceEnabled:            defaultTraceEnabled,
		TraceAgentAddress:       defaultTraceAgentAddress,
		LogCorrelationEnabled:   defaultLogCorrelationEnabled,
	}
	return &controllerFlags
}

// ParseCommandArguments parses the arguments when running the controller
func (cf *ControllerFlags) ParseCommandArguments(args []string) error {
	fs := flag.NewFlagSet("ecmp_ctl", flag.ContinueOnError)

	help := fmt.Sprintf("p4info proto in text format from p4c")
	fs.StringVar(&(cf.P4InfoFile), "p4info", defaultP4InfoFile, help)

	help = fmt.Sprintf("BMv2 JSON file from p4c")
	fs.StringVar(&(cf.Bmv2JSONFile), "bmv2_json", defaultBmv2JSONFile, help)

	help = fmt.Sprintf("Topology file listing the switches and their rules")
	fs.StringVar(&(cf.TopologyFile), "topology", defaultTopologyFile, help)

	help = fmt.Sprintf("Cookie attached to the pushed forwarding pipeline")
	fs.Uint64Var(&(cf.PipelineCookie), "pipeline_cookie", defaultPipelineCookie, help)

	help = fmt.Sprintf("Election id used for mastership arbitration - high 64 bits")
	fs.Uint64Var(&(cf.ElectionIDHigh), "election_id_high", defaultElectionIDHigh, help)

	help = fmt.Sprintf("Election id used for mastership arbitration - low 64 bits")
	fs.Uint64Var(&(cf.ElectionIDLow), "election_id_low", defaultElectionIDLow, help)

	help = fmt.Sprintf("Time allowed for a single connection attempt to a switch")
	fs.DurationVar(&(cf.ConnectTimeout), "connect_timeout", defaultConnectTimeout, help)

	help = fmt.Sprintf("Default timeout for a P4Runtime request")
	fs.DurationVar(&(cf.RPCTimeout), "rpc_timeout", defaultRPCTimeout, help)

	help = fmt.Sprintf("The number of retries to connect to a switch")
	fs.IntVar(&(cf.MaxConnectionRetries), "max_connection_retries", defaultMaxConnectionRetries, help)

	help = fmt.Sprintf("The interval between each connection retry attempt")
	fs.DurationVar(&(cf.ConnectionRetryInterval), "connection_retry_interval", defaultConnectionRetryInterval, help)

	help = fmt.Sprintf("The interval between gRPC keepalive pings to a switch")
	fs.DurationVar(&(cf.KeepAliveInterval), "keep_alive_interval", defaultKeepAliveInterval, help)

	help = fmt.Sprintf("The number of switches driven concurrently, 0 for one per switch")
	fs.IntVar(&(cf.MaxWorkers), "max_workers", defaultMaxWorkers, help)

	help = fmt.Sprintf("Directory receiving per-switch dumps of the P4Runtime requests, empty to disable")
	fs.StringVar(&(cf.ProtoDumpDir), "proto_dump_dir", defaultProtoDumpDir, help)

	help = fmt.Sprintf("Do not read back and print the installed tables")
	fs.BoolVar(&cf.SkipReadBack, "skip_read_back", defaultSkipReadBack, help)

	help = fmt.Sprintf("Comma separated Kafka brokers receiving the read-back audit records, empty to disable")
	fs.StringVar(&(cf.AuditKafkaBrokers), "audit_kafka_brokers", defaultAuditKafkaBrokers, help)

	help = fmt.Sprintf("Kafka topic for the read-back audit records")
	fs.StringVar(&(cf.AuditKafkaTopic), "audit_kafka_topic", defaultAuditKafkaTopic, help)

	help = fmt.Sprintf("Log level")
	fs.StringVar(&(cf.LogLevel), "log_level", defaultLogLevel, help)

	help = fmt.Sprintf("Show startup banner log lines")
	fs.BoolVar(&cf.Banner, "banner", defaultBanner, help)

	help = fmt.Sprintf("Show version information and exit")
	fs.BoolVar(&cf.DisplayVersionOnly, "version", defaultDisplayVersionOnly, help)

	help = fmt.Sprintf("The address on which to listen to answer liveness and readiness probe queries over HTTP")
	fs.StringVar(&(cf.ProbeAddress), "probe_address", defaultProbeAddress, help)

	help = fmt.Sprintf("The address on which to serve prometheus metrics, empty to disable")
	fs.StringVar(&(cf.MetricsAddress), "metrics_address", defaultMetricsAddress, help)

	help = fmt.Sprintf("Whether to send traces to the tracing agent")
	fs.BoolVar(&cf.TraceEnabled, "trace_enabled", defaultTraceEnabled, help)

	help = fmt.Sprintf("The address of the tracing agent to which spans should be forwarded")
	fs.StringVar(&(cf.TraceAgentAddress), "trace_agent_address", defaultTraceAgentAddress, help)

	help = fmt.Sprintf("Whether to enrich log statements with fields denoting operation being executed for achieving correlation")
	fs.BoolVar(&cf.LogCorrelationEnabled, "log_correlation_enabled", defaultLogCorrelationEnabled, help)

	return fs.Parse(args)
}

// ElectionID returns the configured election id
func (cf *ControllerFlags) ElectionID() *p4v1.Uint128 {
	return &p4v1.Uint128{High: cf.ElectionIDHigh, Low: cf.ElectionIDLow}
}

// KafkaBrokers splits the audit broker list, empty when auditing to Kafka is disabled
func (cf *ControllerFlags) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(cf.AuditKafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// DeviceOptions returns the connection options every switch agent runs with
func (cf *ControllerFlags) DeviceOptions() device.Options {
	return device.Options{
		ConnectTimeout:          cf.ConnectTimeout,
		RPCTimeout:              cf.RPCTimeout,
		MaxConnectionRetries:    cf.MaxConnectionRetries,
		ConnectionRetryInterval: cf.ConnectionRetryInterval,
		KeepAliveInterval:       cf.KeepAliveInterval,
		ElectionID:              cf.ElectionID(),
		ProtoDumpDir:            cf.ProtoDumpDir,
	}
}
