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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Ustinaian/P4-final/ecmp_ctl/core/device/state"
	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	"github.com/cenkalti/backoff/v3"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_opentracing "github.com/grpc-ecosystem/go-grpc-middleware/tracing/opentracing"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opentracing/opentracing-go"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// DeviceSpec identifies one P4Runtime switch
type DeviceSpec struct {
	Name     string
	Address  string
	DeviceID uint64
	// ElectionID defaults to the manager's election id when nil
	ElectionID *p4v1.Uint128
}

// PipelineConfig is what SetForwardingPipelineConfig installs
type PipelineConfig struct {
	P4Info       *configv1.P4Info
	DeviceConfig []byte
	Cookie       uint64
}

// Options tune the connection handling of every agent
type Options struct {
	ConnectTimeout          time.Duration
	RPCTimeout              time.Duration
	MaxConnectionRetries    int
	ConnectionRetryInterval time.Duration
	KeepAliveInterval       time.Duration
	ElectionID              *p4v1.Uint128
	ProtoDumpDir            string
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:          5 * time.Second,
		RPCTimeout:              10 * time.Second,
		MaxConnectionRetries:    3,
		ConnectionRetryInterval: 500 * time.Millisecond,
		KeepAliveInterval:       30 * time.Second,
		ElectionID:              &p4v1.Uint128{High: 0, Low: 1},
	}
}

// Agent owns the P4Runtime session with one switch. Operations on an agent are serialised
// through its request queue.
type Agent struct {
	spec         DeviceSpec
	electionID   *p4v1.Uint128
	options      Options
	requestQueue *utils.RequestQueue
	transitions  *state.TransitionMap

	stateLock         sync.RWMutex
	state             state.State
	pipelineInstalled bool
	isMaster          bool

	conn         *grpc.ClientConn
	client       p4v1.P4RuntimeClient
	dump         *utils.ProtoDump
	streamLock   sync.Mutex
	stream       p4v1.P4Runtime_StreamChannelClient
	streamCancel context.CancelFunc
	streamDone   chan struct{}
	streamErr    error
	arbitration  chan *p4v1.MasterArbitrationUpdate
}

// newAgent creates an agent in the Disconnected state
func newAgent(spec DeviceSpec, options Options, transitions *state.TransitionMap) *Agent {
	electionID := spec.ElectionID
	if electionID == nil {
		electionID = options.ElectionID
	}
	if electionID == nil {
		electionID = &p4v1.Uint128{Low: 1}
	}
	if transitions == nil {
		transitions = state.NewTransitionMap()
	}
	agent := &Agent{
		spec:         spec,
		electionID:   electionID,
		options:      options,
		requestQueue: utils.NewRequestQueue(),
		transitions:  transitions,
		state:        state.Disconnected,
		arbitration:  make(chan *p4v1.MasterArbitrationUpdate, 1),
	}
	recordState(spec.Name, state.Disconnected)
	return agent
}

// NewAgent creates a standalone agent, outside of any manager
func NewAgent(spec DeviceSpec, options Options) *Agent {
	return newAgent(spec, options, nil)
}

func (agent *Agent) Name() string              { return agent.spec.Name }
func (agent *Agent) Address() string           { return agent.spec.Address }
func (agent *Agent) DeviceID() uint64          { return agent.spec.DeviceID }
func (agent *Agent) ElectionID() *p4v1.Uint128 { return agent.electionID }

// State returns the current lifecycle state
func (agent *Agent) State() state.State {
	agent.stateLock.RLock()
	defer agent.stateLock.RUnlock()
	return agent.state
}

// IsMaster reports whether the switch last confirmed this controller as primary
func (agent *Agent) IsMaster() bool {
	agent.stateLock.RLock()
	defer agent.stateLock.RUnlock()
	return agent.isMaster
}

// PipelineInstalled reports whether a pipeline push succeeded on this session
func (agent *Agent) PipelineInstalled() bool {
	agent.stateLock.RLock()
	defer agent.stateLock.RUnlock()
	return agent.pipelineInstalled
}

func (agent *Agent) electionString() string {
	return fmt.Sprintf("%d:%d", agent.electionID.GetHigh(), agent.electionID.GetLow())
}

// setState moves the agent to next when the transition table allows it
func (agent *Agent) setState(ctx context.Context, next state.State) bool {
	agent.stateLock.Lock()
	defer agent.stateLock.Unlock()
	prev := agent.state
	if !agent.transitions.IsValid(ctx, prev, next) {
		logger.Warnw(ctx, "state-transition-refused", log.Fields{"device": agent.spec.Name, "from": prev.String(), "to": next.String()})
		return false
	}
	agent.state = next
	if prev != next {
		recordState(agent.spec.Name, next)
		logger.Debugw(ctx, "state-transition", log.Fields{"device": agent.spec.Name, "from": prev.String(), "to": next.String()})
	}
	return true
}

func (agent *Agent) requireState(op string, required state.State) error {
	current := agent.State()
	if current.AtLeast(required) {
		return nil
	}
	return &utils.InvalidStateError{Device: agent.spec.Name, Op: op, State: current.String(), Required: required.String()}
}

func (agent *Agent) startSpan(ctx context.Context, op string) (opentracing.Span, context.Context) {
	return log.CreateChildSpan(ctx, op, log.Fields{"device": agent.spec.Name, "device-id": agent.spec.DeviceID})
}

// acquire waits for this agent's turn, turning a cancelled wait into a TimeoutError
func (agent *Agent) acquire(ctx context.Context, op string) error {
	if err := agent.requestQueue.WaitForGreenLight(ctx); err != nil {
		return &utils.TimeoutError{Device: agent.spec.Name, Op: op, Err: err}
	}
	return nil
}

// Connect dials the switch, checks it answers Capabilities and opens the stream channel
func (agent *Agent) Connect(ctx context.Context) error {
	span, ctx := agent.startSpan(ctx, "connect")
	defer span.Finish()

	if err := agent.acquire(ctx, "connect"); err != nil {
		return err
	}
	defer agent.requestQueue.RequestComplete()

	if current := agent.State(); current != state.Disconnected {
		return &utils.InvalidStateError{Device: agent.spec.Name, Op: "connect", State: current.String(), Required: state.Disconnected.String()}
	}

	logger.Infow(ctx, "connecting-to-device", log.Fields{"device": agent.spec.Name, "address": agent.spec.Address, "device-id": agent.spec.DeviceID})

	unary := []grpc.UnaryClientInterceptor{
		grpc_opentracing.UnaryClientInterceptor(grpc_opentracing.WithTracer(log.ActiveTracerProxy{})),
	}
	stream := []grpc.StreamClientInterceptor{
		grpc_opentracing.StreamClientInterceptor(grpc_opentracing.WithTracer(log.ActiveTracerProxy{})),
	}
	if agent.options.ProtoDumpDir != "" {
		dump, err := utils.NewProtoDump(filepath.Join(agent.options.ProtoDumpDir, agent.spec.Name+"-p4runtime-requests.txt"))
		if err != nil {
			logger.Warnw(ctx, "proto-dump-unavailable", log.Fields{"device": agent.spec.Name, "error": err})
		} else {
			agent.dump = dump
			unary = append(unary, dump.UnaryClientInterceptor())
			stream = append(stream, dump.StreamClientInterceptor())
		}
	}

	conn, err := grpc.NewClient(agent.spec.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpc_middleware.ChainUnaryClient(unary...)),
		grpc.WithStreamInterceptor(grpc_middleware.ChainStreamClient(stream...)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                agent.options.KeepAliveInterval,
			Timeout:             agent.options.ConnectTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		agent.closeDump()
		agent.setState(ctx, state.Errored)
		return &utils.TransportError{Device: agent.spec.Name, Address: agent.spec.Address, Err: err}
	}
	client := p4v1.NewP4RuntimeClient(conn)

	var caps *p4v1.CapabilitiesResponse
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = agent.options.ConnectionRetryInterval
	retry.MaxElapsedTime = 0
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, agent.options.ConnectTimeout)
		defer cancel()
		resp, cerr := client.Capabilities(attemptCtx, &p4v1.CapabilitiesRequest{})
		if cerr != nil {
			logger.Debugw(ctx, "capabilities-failed", log.Fields{"device": agent.spec.Name, "attempt": attempt, "error": cerr})
			if ctx.Err() != nil {
				return backoff.Permanent(cerr)
			}
			return cerr
		}
		caps = resp
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(retry, uint64(agent.options.MaxConnectionRetries)), ctx))
	if err != nil {
		_ = conn.Close()
		agent.closeDump()
		if ctx.Err() != nil {
			return &utils.TimeoutError{Device: agent.spec.Name, Op: "connect", Err: ctx.Err()}
		}
		agent.setState(ctx, state.Errored)
		log.MarkSpanError(ctx, err)
		return &utils.TransportError{Device: agent.spec.Name, Address: agent.spec.Address, Err: err}
	}

	streamCtx, streamCancel := context.WithCancel(log.WithSpanFromContext(context.Background(), ctx))
	streamClient, err := client.StreamChannel(streamCtx)
	if err != nil {
		streamCancel()
		_ = conn.Close()
		agent.closeDump()
		agent.setState(ctx, state.Errored)
		return &utils.TransportError{Device: agent.spec.Name, Address: agent.spec.Address, Err: err}
	}

	agent.streamLock.Lock()
	agent.conn = conn
	agent.client = client
	agent.stream = streamClient
	agent.streamCancel = streamCancel
	agent.streamDone = make(chan struct{})
	go agent.receiveStream(log.WithSpanFromContext(context.Background(), ctx), streamClient, agent.streamDone)
	agent.streamLock.Unlock()

	if !agent.setState(ctx, state.Connected) {
		// closed while dialing
		streamCancel()
		_ = conn.Close()
		agent.closeDump()
		return &utils.InvalidStateError{Device: agent.spec.Name, Op: "connect", State: agent.State().String(), Required: state.Disconnected.String()}
	}
	logger.Infow(ctx, "connected-to-device", log.Fields{"device": agent.spec.Name, "p4runtime-version": caps.GetP4RuntimeApiVersion()})
	return nil
}

// receiveStream routes stream channel messages until the stream ends
func (agent *Agent) receiveStream(ctx context.Context, stream p4v1.P4Runtime_StreamChannelClient, done chan struct{}) {
	defer close(done)
	for {
		resp, err := stream.Recv()
		if err != nil {
			agent.streamLock.Lock()
			agent.streamErr = err
			agent.streamLock.Unlock()
			agent.stateLock.Lock()
			agent.isMaster = false
			agent.stateLock.Unlock()
			if status.Code(err) != codes.Canceled {
				logger.Warnw(ctx, "stream-channel-closed", log.Fields{"device": agent.spec.Name, "error": err})
			}
			return
		}
		switch update := resp.GetUpdate().(type) {
		case *p4v1.StreamMessageResponse_Arbitration:
			agent.handleArbitration(ctx, update.Arbitration)
		case *p4v1.StreamMessageResponse_Error:
			logger.Warnw(ctx, "stream-error-reported", log.Fields{"device": agent.spec.Name, "error": update.Error.String()})
		default:
			logger.Debugw(ctx, "stream-message-ignored", log.Fields{"device": agent.spec.Name, "message": resp.String()})
		}
	}
}

func (agent *Agent) handleArbitration(ctx context.Context, arb *p4v1.MasterArbitrationUpdate) {
	primary := codes.Code(arb.GetStatus().GetCode()) == codes.OK &&
		arb.GetElectionId().GetHigh() == agent.electionID.GetHigh() &&
		arb.GetElectionId().GetLow() == agent.electionID.GetLow()

	agent.stateLock.Lock()
	wasMaster := agent.isMaster
	agent.isMaster = primary
	agent.stateLock.Unlock()

	if wasMaster && !primary {
		logger.Errorw(ctx, "mastership-lost", log.Fields{"device": agent.spec.Name, "election-id": agent.electionString(),
			"primary-election-id": fmt.Sprintf("%d:%d", arb.GetElectionId().GetHigh(), arb.GetElectionId().GetLow())})
	}

	// keep only the latest answer for a pending election
	select {
	case agent.arbitration <- arb:
	default:
		select {
		case <-agent.arbitration:
		default:
		}
		agent.arbitration <- arb
	}
}

// ElectMastership asks the switch to make this controller primary. Re-asserting mastership
// from a later state keeps that state.
func (agent *Agent) ElectMastership(ctx context.Context) error {
	span, ctx := agent.startSpan(ctx, "elect-mastership")
	defer span.Finish()

	if err := agent.acquire(ctx, "elect-mastership"); err != nil {
		return err
	}
	defer agent.requestQueue.RequestComplete()

	if err := agent.requireState("elect-mastership", state.Connected); err != nil {
		return err
	}

	// drop answers nobody waited for
	select {
	case <-agent.arbitration:
	default:
	}

	req := &p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Arbitration{Arbitration: &p4v1.MasterArbitrationUpdate{
			DeviceId:   agent.spec.DeviceID,
			ElectionId: agent.electionID,
		}},
	}
	agent.streamLock.Lock()
	err := agent.stream.Send(req)
	agent.streamLock.Unlock()
	if err != nil {
		agent.setState(ctx, state.Errored)
		return &utils.TransportError{Device: agent.spec.Name, Address: agent.spec.Address, Err: err}
	}

	select {
	case arb := <-agent.arbitration:
		if c := codes.Code(arb.GetStatus().GetCode()); c != codes.OK {
			return &utils.ArbitrationError{Device: agent.spec.Name, DeviceID: agent.spec.DeviceID, ElectionID: agent.electionString(),
				Code: c, Detail: arb.GetStatus().GetMessage()}
		}
	case <-agent.streamDone:
		agent.streamLock.Lock()
		streamErr := agent.streamErr
		agent.streamLock.Unlock()
		if c := status.Code(streamErr); c == codes.NotFound || c == codes.PermissionDenied || c == codes.FailedPrecondition {
			return &utils.ArbitrationError{Device: agent.spec.Name, DeviceID: agent.spec.DeviceID, ElectionID: agent.electionString(),
				Code: c, Detail: status.Convert(streamErr).Message()}
		}
		agent.setState(ctx, state.Errored)
		return &utils.TransportError{Device: agent.spec.Name, Address: agent.spec.Address, Err: streamErr}
	case <-ctx.Done():
		return &utils.TimeoutError{Device: agent.spec.Name, Op: "elect-mastership", Err: ctx.Err()}
	}

	if agent.State() == state.Connected {
		agent.setState(ctx, state.MasterElected)
	}
	logger.Infow(ctx, "mastership-acquired", log.Fields{"device": agent.spec.Name, "election-id": agent.electionString()})
	return nil
}

// PushPipeline installs the compiled program with VERIFY_AND_COMMIT
func (agent *Agent) PushPipeline(ctx context.Context, pipeline PipelineConfig) error {
	span, ctx := agent.startSpan(ctx, "push-pipeline")
	defer span.Finish()

	if err := agent.acquire(ctx, "push-pipeline"); err != nil {
		return err
	}
	defer agent.requestQueue.RequestComplete()

	if err := agent.requireState("push-pipeline", state.MasterElected); err != nil {
		return err
	}

	req := &p4v1.SetForwardingPipelineConfigRequest{
		DeviceId:   agent.spec.DeviceID,
		ElectionId: agent.electionID,
		Action:     p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4v1.ForwardingPipelineConfig{
			P4Info:         pipeline.P4Info,
			P4DeviceConfig: pipeline.DeviceConfig,
			Cookie:         &p4v1.ForwardingPipelineConfig_Cookie{Cookie: pipeline.Cookie},
		},
	}
	if _, err := agent.client.SetForwardingPipelineConfig(ctx, req); err != nil {
		classified := agent.classify(ctx, "push-pipeline", err)
		if errors.Is(classified, utils.ErrWrite) {
			classified = &utils.PipelineConfigError{Device: agent.spec.Name, Err: err}
		}
		log.MarkSpanError(ctx, classified)
		return classified
	}

	agent.stateLock.Lock()
	agent.pipelineInstalled = true
	agent.stateLock.Unlock()
	agent.setState(ctx, state.PipelineConfigured)
	logger.Infow(ctx, "pipeline-installed", log.Fields{"device": agent.spec.Name, "cookie": pipeline.Cookie})
	return nil
}

// WriteEntry installs an entry. An entry with the same key already on the switch is modified
// in place so that the last write wins.
func (agent *Agent) WriteEntry(ctx context.Context, entry *p4v1.TableEntry) error {
	span, ctx := agent.startSpan(ctx, "write-entry")
	defer span.Finish()

	if err := agent.acquire(ctx, "write-entry"); err != nil {
		return err
	}
	defer agent.requestQueue.RequestComplete()

	if err := agent.requireState("write-entry", state.PipelineConfigured); err != nil {
		return err
	}

	err := agent.write(ctx, p4v1.Update_INSERT, entry)
	var werr *utils.WriteError
	if errors.As(err, &werr) && werr.Code == codes.AlreadyExists {
		logger.Debugw(ctx, "entry-exists-modifying", log.Fields{"device": agent.spec.Name, "table-id": entry.GetTableId()})
		err = agent.write(ctx, p4v1.Update_MODIFY, entry)
	}
	if err != nil {
		log.MarkSpanError(ctx, err)
		return err
	}
	if agent.State() == state.PipelineConfigured {
		agent.setState(ctx, state.Programmed)
	}
	return nil
}

// DeleteEntry removes the entry with the same key
func (agent *Agent) DeleteEntry(ctx context.Context, entry *p4v1.TableEntry) error {
	span, ctx := agent.startSpan(ctx, "delete-entry")
	defer span.Finish()

	if err := agent.acquire(ctx, "delete-entry"); err != nil {
		return err
	}
	defer agent.requestQueue.RequestComplete()

	if err := agent.requireState("delete-entry", state.PipelineConfigured); err != nil {
		return err
	}
	return agent.write(ctx, p4v1.Update_DELETE, entry)
}

func (agent *Agent) write(ctx context.Context, updateType p4v1.Update_Type, entry *p4v1.TableEntry) error {
	req := &p4v1.WriteRequest{
		DeviceId:   agent.spec.DeviceID,
		ElectionId: agent.electionID,
		Updates: []*p4v1.Update{{
			Type:   updateType,
			Entity: &p4v1.Entity{Entity: &p4v1.Entity_TableEntry{TableEntry: entry}},
		}},
	}
	if _, err := agent.client.Write(ctx, req); err != nil {
		classified := agent.classify(ctx, "write-entry", err)
		var werr *utils.WriteError
		if errors.As(classified, &werr) {
			werr.Table = "table-id=" + strconv.FormatUint(uint64(entry.GetTableId()), 10)
			entryWriteFailures.WithLabelValues(agent.spec.Name, werr.Code.String()).Inc()
		}
		return classified
	}
	entryWrites.WithLabelValues(agent.spec.Name, updateType.String()).Inc()
	return nil
}

// classify maps a gRPC failure onto the error taxonomy and applies its state consequences
func (agent *Agent) classify(ctx context.Context, op string, err error) error {
	st := status.Convert(err)
	switch {
	case ctx.Err() != nil || st.Code() == codes.DeadlineExceeded || st.Code() == codes.Canceled:
		logger.Warnw(ctx, "device-operation-timed-out", log.Fields{"device": agent.spec.Name, "op": op})
		return &utils.TimeoutError{Device: agent.spec.Name, Op: op, Err: err}
	case st.Code() == codes.Unavailable:
		agent.setState(ctx, state.Errored)
		return &utils.TransportError{Device: agent.spec.Name, Address: agent.spec.Address, Err: err}
	case st.Code() == codes.PermissionDenied:
		agent.stateLock.Lock()
		agent.isMaster = false
		agent.stateLock.Unlock()
		return &utils.ArbitrationError{Device: agent.spec.Name, DeviceID: agent.spec.DeviceID, ElectionID: agent.electionString(),
			Code: st.Code(), Detail: st.Message()}
	}
	for _, detail := range st.Details() {
		if perr, ok := detail.(*p4v1.Error); ok && codes.Code(perr.GetCanonicalCode()) != codes.OK {
			return &utils.WriteError{Device: agent.spec.Name, Code: codes.Code(perr.GetCanonicalCode()), Detail: perr.GetMessage()}
		}
	}
	return &utils.WriteError{Device: agent.spec.Name, Code: st.Code(), Detail: st.Message()}
}

// ReadEntries streams the entries installed in a table, every table when tableID is zero.
// The agent's request queue stays held until the stream is drained or closed.
func (agent *Agent) ReadEntries(ctx context.Context, tableID uint32) (*EntryStream, error) {
	if err := agent.acquire(ctx, "read-entries"); err != nil {
		return nil, err
	}
	if err := agent.requireState("read-entries", state.PipelineConfigured); err != nil {
		agent.requestQueue.RequestComplete()
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req := &p4v1.ReadRequest{
		DeviceId: agent.spec.DeviceID,
		Entities: []*p4v1.Entity{{Entity: &p4v1.Entity_TableEntry{TableEntry: &p4v1.TableEntry{TableId: tableID}}}},
	}
	readClient, err := agent.client.Read(streamCtx, req)
	if err != nil {
		cancel()
		agent.requestQueue.RequestComplete()
		return nil, agent.classify(ctx, "read-entries", err)
	}
	logger.Debugw(ctx, "reading-entries", log.Fields{"device": agent.spec.Name, "table-id": tableID})
	return &EntryStream{agent: agent, ctx: streamCtx, stream: readClient, cancel: cancel}, nil
}

// Close tears the session down. It is idempotent and legal from every state.
func (agent *Agent) Close(ctx context.Context) error {
	agent.stateLock.Lock()
	if agent.state == state.Closed {
		agent.stateLock.Unlock()
		return nil
	}
	prev := agent.state
	agent.state = state.Closed
	agent.isMaster = false
	agent.stateLock.Unlock()
	recordState(agent.spec.Name, state.Closed)

	var err error
	agent.streamLock.Lock()
	if agent.stream != nil {
		_ = agent.stream.CloseSend()
		agent.streamCancel()
	}
	if agent.conn != nil {
		err = agent.conn.Close()
	}
	agent.streamLock.Unlock()
	agent.closeDump()
	logger.Infow(ctx, "device-connection-closed", log.Fields{"device": agent.spec.Name, "previous-state": prev.String()})
	if err != nil && status.Code(err) != codes.Canceled {
		return &utils.TransportError{Device: agent.spec.Name, Address: agent.spec.Address, Err: err}
	}
	return nil
}

func (agent *Agent) closeDump() {
	if agent.dump != nil {
		_ = agent.dump.Close()
	}
}
