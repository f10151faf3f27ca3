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
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/phayes/freeport"
	"google.golang.org/genproto/googleapis/rpc/code"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Switch is an in-process P4Runtime target. It implements mastership arbitration, pipeline
// installation, table writes with P4Runtime per-update error reporting and streaming reads.
type Switch struct {
	p4v1.UnimplementedP4RuntimeServer

	DeviceID uint64
	Address  string

	server   *grpc.Server
	listener net.Listener

	mutex          sync.Mutex
	master         *p4v1.Uint128
	streams        map[*switchStream]struct{}
	pipeline       *p4v1.ForwardingPipelineConfig
	tables         map[uint32]*configv1.Table
	entries        map[string]*p4v1.TableEntry
	order          []string
	writes         []*p4v1.Update
	writeDelay     time.Duration
	rejectPipeline string
	failTables     map[uint32]codes.Code
	arbitrations   int
}

type switchStream struct {
	mutex  sync.Mutex
	stream p4v1.P4Runtime_StreamChannelServer
}

func (s *switchStream) send(resp *p4v1.StreamMessageResponse) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.stream.Send(resp)
}

// NewSwitch creates a switch listening on a free local port. Start must be called to serve.
func NewSwitch(deviceID uint64) (*Switch, error) {
	port, err := freeport.GetFreePort()
	if err != nil {
		return nil, err
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Switch{
		DeviceID:   deviceID,
		Address:    address,
		listener:   lis,
		streams:    make(map[*switchStream]struct{}),
		tables:     make(map[uint32]*configv1.Table),
		entries:    make(map[string]*p4v1.TableEntry),
		failTables: make(map[uint32]codes.Code),
	}, nil
}

// Start serves P4Runtime in the background
func (s *Switch) Start() {
	s.server = grpc.NewServer()
	p4v1.RegisterP4RuntimeServer(s.server, s)
	go func() {
		_ = s.server.Serve(s.listener)
	}()
}

// Stop tears down the server and every open stream
func (s *Switch) Stop() {
	if s.server != nil {
		s.server.Stop()
		return
	}
	_ = s.listener.Close()
}

// SetWriteDelay makes every Write wait d before being processed
func (s *Switch) SetWriteDelay(d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.writeDelay = d
}

// RejectPipeline makes SetForwardingPipelineConfig fail with the given message
func (s *Switch) RejectPipeline(msg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rejectPipeline = msg
}

// FailWrites makes every update to the table fail with the given code
func (s *Switch) FailWrites(tableID uint32, c codes.Code) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failTables[tableID] = c
}

// Master returns the election id of the current primary controller, nil when none
func (s *Switch) Master() *p4v1.Uint128 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.master == nil {
		return nil
	}
	return proto.Clone(s.master).(*p4v1.Uint128)
}

// Arbitrations counts the arbitration requests received on all streams
func (s *Switch) Arbitrations() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.arbitrations
}

// PipelineInstalled reports whether a forwarding pipeline has been committed
func (s *Switch) PipelineInstalled() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.pipeline != nil
}

// Entries returns the installed entries in installation order
func (s *Switch) Entries() []*p4v1.TableEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	entries := make([]*p4v1.TableEntry, 0, len(s.order))
	for _, k := range s.order {
		entries = append(entries, proto.Clone(s.entries[k]).(*p4v1.TableEntry))
	}
	return entries
}

// Writes returns every update received, successful or not, in arrival order
func (s *Switch) Writes() []*p4v1.Update {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*p4v1.Update(nil), s.writes...)
}

// Preempt hands mastership to another controller and notifies every open stream
func (s *Switch) Preempt(electionID *p4v1.Uint128) {
	s.mutex.Lock()
	s.master = electionID
	streams := make([]*switchStream, 0, len(s.streams))
	for st := range s.streams {
		streams = append(streams, st)
	}
	s.mutex.Unlock()

	for _, st := range streams {
		_ = st.send(&p4v1.StreamMessageResponse{
			Update: &p4v1.StreamMessageResponse_Arbitration{Arbitration: &p4v1.MasterArbitrationUpdate{
				DeviceId:   s.DeviceID,
				ElectionId: electionID,
				Status:     &rpcstatus.Status{Code: int32(code.Code_ALREADY_EXISTS), Message: "preempted by a newer primary"},
			}},
		})
	}
}

func (s *Switch) Capabilities(ctx context.Context, req *p4v1.CapabilitiesRequest) (*p4v1.CapabilitiesResponse, error) {
	return &p4v1.CapabilitiesResponse{P4RuntimeApiVersion: "1.4.1"}, nil
}

func (s *Switch) StreamChannel(stream p4v1.P4Runtime_StreamChannelServer) error {
	st := &switchStream{stream: stream}
	s.mutex.Lock()
	s.streams[st] = struct{}{}
	s.mutex.Unlock()
	defer func() {
		s.mutex.Lock()
		delete(s.streams, st)
		s.mutex.Unlock()
	}()

	for {
		req, err := stream.Recv()
		if err != nil {
			return nil
		}
		arb := req.GetArbitration()
		if arb == nil {
			continue
		}
		if arb.GetDeviceId() != s.DeviceID {
			return status.Errorf(codes.NotFound, "device id %d not served here", arb.GetDeviceId())
		}
		if err := st.send(s.arbitrate(arb)); err != nil {
			return err
		}
	}
}

// arbitrate grants mastership to an election id at least as high as the current primary's
func (s *Switch) arbitrate(arb *p4v1.MasterArbitrationUpdate) *p4v1.StreamMessageResponse {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.arbitrations++

	result := &rpcstatus.Status{Code: int32(code.Code_OK)}
	if s.master == nil || !isNewer(s.master, arb.GetElectionId()) {
		s.master = arb.GetElectionId()
	} else {
		result = &rpcstatus.Status{Code: int32(code.Code_ALREADY_EXISTS), Message: "a primary with a higher election id exists"}
	}
	return &p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Arbitration{Arbitration: &p4v1.MasterArbitrationUpdate{
			DeviceId:   arb.GetDeviceId(),
			Role:       arb.GetRole(),
			ElectionId: s.master,
			Status:     result,
		}},
	}
}

// isNewer reports whether a is strictly higher than b
func isNewer(a, b *p4v1.Uint128) bool {
	return a.GetHigh() > b.GetHigh() || (a.GetHigh() == b.GetHigh() && a.GetLow() > b.GetLow())
}

func sameElection(a, b *p4v1.Uint128) bool {
	return a != nil && b != nil && a.GetHigh() == b.GetHigh() && a.GetLow() == b.GetLow()
}

func (s *Switch) checkPrimary(deviceID uint64, electionID *p4v1.Uint128) error {
	if deviceID != s.DeviceID {
		return status.Errorf(codes.NotFound, "device id %d not served here", deviceID)
	}
	if !sameElection(s.master, electionID) {
		return status.Errorf(codes.PermissionDenied, "not primary")
	}
	return nil
}

func (s *Switch) SetForwardingPipelineConfig(ctx context.Context, req *p4v1.SetForwardingPipelineConfigRequest) (*p4v1.SetForwardingPipelineConfigResponse, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.checkPrimary(req.GetDeviceId(), req.GetElectionId()); err != nil {
		return nil, err
	}
	if s.rejectPipeline != "" {
		return nil, status.Error(codes.InvalidArgument, s.rejectPipeline)
	}
	if req.GetConfig().GetP4Info() == nil {
		return nil, status.Error(codes.InvalidArgument, "missing p4info")
	}
	s.pipeline = proto.Clone(req.GetConfig()).(*p4v1.ForwardingPipelineConfig)
	s.tables = make(map[uint32]*configv1.Table)
	for _, t := range s.pipeline.GetP4Info().GetTables() {
		s.tables[t.GetPreamble().GetId()] = t
	}
	s.entries = make(map[string]*p4v1.TableEntry)
	s.order = nil
	return &p4v1.SetForwardingPipelineConfigResponse{}, nil
}

func (s *Switch) Write(ctx context.Context, req *p4v1.WriteRequest) (*p4v1.WriteResponse, error) {
	s.mutex.Lock()
	delay := s.writeDelay
	s.mutex.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.checkPrimary(req.GetDeviceId(), req.GetElectionId()); err != nil {
		return nil, err
	}
	if s.pipeline == nil {
		return nil, status.Error(codes.FailedPrecondition, "no forwarding pipeline")
	}

	failed := false
	details := make([]*p4v1.Error, 0, len(req.GetUpdates()))
	for _, u := range req.GetUpdates() {
		s.writes = append(s.writes, proto.Clone(u).(*p4v1.Update))
		c, msg := s.apply(u)
		if c != codes.OK {
			failed = true
		}
		details = append(details, &p4v1.Error{CanonicalCode: int32(c), Message: msg})
	}
	if !failed {
		return &p4v1.WriteResponse{}, nil
	}
	st := status.New(codes.Unknown, "write failure")
	for _, d := range details {
		if withDetail, err := st.WithDetails(d); err == nil {
			st = withDetail
		}
	}
	return nil, st.Err()
}

func (s *Switch) apply(u *p4v1.Update) (codes.Code, string) {
	te := u.GetEntity().GetTableEntry()
	if te == nil {
		return codes.Unimplemented, "only table entries are supported"
	}
	table, ok := s.tables[te.GetTableId()]
	if !ok {
		return codes.NotFound, fmt.Sprintf("table %d not in pipeline", te.GetTableId())
	}
	if c, ok := s.failTables[te.GetTableId()]; ok {
		return c, "injected failure"
	}
	known := make(map[uint32]bool)
	for _, mf := range table.GetMatchFields() {
		known[mf.GetId()] = true
	}
	for _, fm := range te.GetMatch() {
		if !known[fm.GetFieldId()] {
			return codes.InvalidArgument, fmt.Sprintf("match field %d not in table %s", fm.GetFieldId(), table.GetPreamble().GetName())
		}
	}

	key := entryKey(te)
	_, exists := s.entries[key]
	switch u.GetType() {
	case p4v1.Update_INSERT:
		if exists {
			return codes.AlreadyExists, "entry exists"
		}
		s.entries[key] = proto.Clone(te).(*p4v1.TableEntry)
		s.order = append(s.order, key)
	case p4v1.Update_MODIFY:
		if !exists {
			return codes.NotFound, "entry does not exist"
		}
		s.entries[key] = proto.Clone(te).(*p4v1.TableEntry)
	case p4v1.Update_DELETE:
		if !exists {
			return codes.NotFound, "entry does not exist"
		}
		delete(s.entries, key)
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	default:
		return codes.InvalidArgument, "unspecified update type"
	}
	return codes.OK, ""
}

// entryKey identifies an entry by table, match and priority
func entryKey(te *p4v1.TableEntry) string {
	match := make([]*p4v1.FieldMatch, len(te.GetMatch()))
	copy(match, te.GetMatch())
	sort.Slice(match, func(i, j int) bool { return match[i].GetFieldId() < match[j].GetFieldId() })
	b, _ := proto.MarshalOptions{Deterministic: true}.Marshal(&p4v1.TableEntry{
		TableId:  te.GetTableId(),
		Match:    match,
		Priority: te.GetPriority(),
	})
	return string(b)
}

func (s *Switch) Read(req *p4v1.ReadRequest, stream p4v1.P4Runtime_ReadServer) error {
	s.mutex.Lock()
	if req.GetDeviceId() != s.DeviceID {
		s.mutex.Unlock()
		return status.Errorf(codes.NotFound, "device id %d not served here", req.GetDeviceId())
	}
	var matched []*p4v1.TableEntry
	for _, ent := range req.GetEntities() {
		filter := ent.GetTableEntry()
		if filter == nil {
			continue
		}
		for _, k := range s.order {
			te := s.entries[k]
			if filter.GetTableId() == 0 || filter.GetTableId() == te.GetTableId() {
				matched = append(matched, proto.Clone(te).(*p4v1.TableEntry))
			}
		}
	}
	s.mutex.Unlock()

	// one entry per response so clients see the stream arrive incrementally
	for _, te := range matched {
		resp := &p4v1.ReadResponse{Entities: []*p4v1.Entity{{Entity: &p4v1.Entity_TableEntry{TableEntry: te}}}}
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
	return nil
}
