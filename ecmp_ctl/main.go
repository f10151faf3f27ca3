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

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ustinaian/P4-final/ecmp_ctl/config"
	c "github.com/Ustinaian/P4-final/ecmp_ctl/core"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/inspect"
	"github.com/Ustinaian/P4-final/ecmp_ctl/topology"
	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-lib-go/v7/pkg/probe"
	"github.com/opencord/voltha-lib-go/v7/pkg/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ecmpCtl struct {
	config   *config.ControllerFlags
	core     *c.Core
	sinks    []io.Closer
	metrics  *http.Server
	topology *topology.Topology
}

func newEcmpCtl(cf *config.ControllerFlags) *ecmpCtl {
	return &ecmpCtl{config: cf}
}

func (ec *ecmpCtl) start(ctx context.Context, instanceID string) error {
	logger.Info(ctx, "starting-ecmp-controller-components")

	topo, err := topology.LoadFile(ec.config.TopologyFile)
	if err != nil {
		return err
	}
	ec.topology = topo
	ec.core = c.NewCore(instanceID, ec.config, topo, os.Stdout)

	if brokers := ec.config.KafkaBrokers(); len(brokers) > 0 {
		sink, err := inspect.NewKafkaSink(brokers, ec.config.AuditKafkaTopic, instanceID)
		if err != nil {
			logger.Errorw(ctx, "audit-sink-unavailable", log.Fields{"brokers": brokers, "error": err})
		} else {
			ec.core.AddAuditSink(sink)
			ec.sinks = append(ec.sinks, sink)
		}
	}

	if ec.config.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		ec.metrics = &http.Server{Addr: ec.config.MetricsAddress, Handler: mux}
		go func() {
			if err := ec.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw(ctx, "metrics-server-failed", log.Fields{"address": ec.config.MetricsAddress, "error": err})
			}
		}()
	}
	return nil
}

func (ec *ecmpCtl) stop(ctx context.Context) {
	for _, sink := range ec.sinks {
		if err := sink.Close(); err != nil {
			logger.Warnw(ctx, "audit-sink-close-failed", log.Fields{"error": err})
		}
	}
	if ec.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = ec.metrics.Shutdown(shutdownCtx)
	}
}

// cancelOnSignal stops the programming pass when the process is asked to exit
func cancelOnSignal(ctx context.Context, cancel context.CancelFunc) {
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		select {
		case s := <-signalChannel:
			logger.Infow(ctx, "closing-signal-received", log.Fields{"signal": s})
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signalChannel)
	}()
}

func printBanner() {
	fmt.Println("                                              ")
	fmt.Println("  ___ ___ __  __ ___       ___ _____ _        ")
	fmt.Println(" | __/ __|  \\/  | _ \\     / __|_   _| |    ")
	fmt.Println(" | _| (__| |\\/| |  _/    | (__  | | | |__    ")
	fmt.Println(" |___\\___|_|  |_|_|       \\___| |_| |____| ")
	fmt.Println("                                              ")
}

func printVersion() {
	fmt.Println("P4Runtime ECMP Controller")
	fmt.Println(version.VersionInfo.String("  "))
}

func realMain() int {
	start := time.Now()
	ctx := context.Background()

	cf := config.NewControllerFlags()
	if err := cf.ParseCommandArguments(os.Args[1:]); err != nil {
		return 2
	}

	instanceID := utils.CreateInstanceID()

	logLevel, err := log.StringToLogLevel(cf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cf.LogLevel, err)
		return 2
	}

	// Setup default logger - applies for packages that do not have specific logger set
	if _, err := log.SetDefaultLogger(log.JSON, logLevel, log.Fields{"instanceId": instanceID}); err != nil {
		logger.With(log.Fields{"error": err}).Fatal(ctx, "Cannot setup logging")
	}

	// Update all loggers (provisioned via init) with a common field
	if err := log.UpdateAllLoggers(log.Fields{"instanceId": instanceID}); err != nil {
		logger.With(log.Fields{"error": err}).Fatal(ctx, "Cannot setup logging")
	}

	// Update all loggers to log level specified as input parameter
	log.SetAllLogLevel(logLevel)

	defer func() {
		err := log.CleanUp()
		if err != nil {
			logger.Errorw(ctx, "unable-to-flush-any-buffered-log-entries", log.Fields{"error": err})
		}
	}()

	// Print version / build information and exit
	if cf.DisplayVersionOnly {
		printVersion()
		return 0
	}

	// Print banner if specified
	if cf.Banner {
		printBanner()
	}

	logger.Infow(ctx, "ecmp-ctl-config", log.Fields{"config": *cf})

	closer, err := log.GetGlobalLFM().InitTracingAndLogCorrelation(cf.TraceEnabled, cf.TraceAgentAddress, cf.LogCorrelationEnabled)
	if err != nil {
		logger.Warnw(ctx, "unable-to-initialize-tracing-and-log-correlation-module", log.Fields{"error": err})
	} else {
		defer log.TerminateTracing(closer)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cancelOnSignal(ctx, cancel)

	/*
	 * Create and start the liveness and readiness container management probes. Every switch
	 * is registered as a service once its bring-up begins.
	 */
	p := &probe.Probe{}
	go p.ListenAndServe(ctx, cf.ProbeAddress)

	// Add the probe to the context to pass to all the services started
	probeCtx := context.WithValue(ctx, probe.ProbeContextKey, p)

	ec := newEcmpCtl(cf)
	defer ec.stop(probeCtx)
	if err := ec.start(probeCtx, instanceID); err != nil {
		logger.Errorw(ctx, "ecmp-ctl-start-failed", log.Fields{"error": err})
		return 1
	}

	code := 0
	report, err := ec.core.Run(probeCtx)
	if err != nil {
		logger.Errorw(ctx, "programming-pass-failed", log.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		code = 1
	}
	if report != nil {
		for _, name := range report.BringUp.Order {
			if ferr, ok := report.BringUp.Failed[name]; ok {
				fmt.Fprintf(os.Stderr, "%s: not programmed: %v\n", name, ferr)
			}
		}
	}

	elapsed := time.Since(start)
	logger.Infow(ctx, "ecmp-ctl-run-time", log.Fields{"instance-id": instanceID, "time": elapsed / time.Second})
	return code
}

func main() {
	os.Exit(realMain())
}
