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

package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	saramamocks "github.com/IBM/sarama/mocks"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/device"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/rules"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/schema"
	"github.com/Ustinaian/P4-final/ecmp_ctl/mocks"
	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func loadBalanceRegistry(t *testing.T) *schema.Registry {
	registry, err := schema.New(mocks.LoadBalanceP4Info())
	require.NoError(t, err)
	return registry
}

// programmedSwitch starts a simulated switch, brings an agent up against it and installs rules
func programmedSwitch(t *testing.T, registry *schema.Registry, rs []rules.Rule) *device.Agent {
	ctx := context.Background()
	sw, err := mocks.NewSwitch(0)
	require.NoError(t, err)
	sw.Start()
	t.Cleanup(sw.Stop)

	opts := device.DefaultOptions()
	opts.MaxConnectionRetries = 1
	opts.ConnectionRetryInterval = 10 * time.Millisecond
	agent := device.NewAgent(device.DeviceSpec{Name: "s1", Address: sw.Address, DeviceID: sw.DeviceID}, opts)
	t.Cleanup(func() { _ = agent.Close(context.Background()) })
	require.NoError(t, agent.Connect(ctx))
	require.NoError(t, agent.ElectMastership(ctx))
	require.NoError(t, agent.PushPipeline(ctx, device.PipelineConfig{
		P4Info:       mocks.LoadBalanceP4Info(),
		DeviceConfig: mocks.LoadBalanceDeviceConfig(),
	}))

	programmer := rules.NewProgrammer(rules.NewBuilder(registry, rules.DefaultMapping()), 0)
	require.NoError(t, programmer.Apply(ctx, agent, rs).Err())
	return agent
}

func drain(t *testing.T, stream *EntryStream) []*RenderedEntry {
	var entries []*RenderedEntry
	for {
		entry, err := stream.Next()
		if err == io.EOF {
			return entries
		}
		require.NoError(t, err)
		entries = append(entries, entry)
	}
}

func TestDumpSingleGroupEntry(t *testing.T) {
	registry := loadBalanceRegistry(t)
	agent := programmedSwitch(t, registry, []rules.Rule{
		rules.GroupRule{DstPrefix: "10.0.0.1", PrefixLen: 32, Base: 0, Count: 5},
	})

	stream, err := NewInspector(registry).Dump(context.Background(), agent)
	require.NoError(t, err)
	entries := drain(t, stream)
	require.NoError(t, stream.Close())

	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "s1", entry.Device)
	assert.Equal(t, "MyIngress.ecmp_group", entry.Table)
	assert.Equal(t, []RenderedMatch{{Field: "hdr.ipv4.dstAddr", Kind: "LPM", Value: "10.0.0.1/32"}}, entry.Match)
	assert.Equal(t, "MyIngress.set_ecmp_select", entry.Action)
	require.Len(t, entry.Params, 2)
	assert.Equal(t, "ecmp_base", entry.Params[0].Name)
	assert.Equal(t, "0", entry.Params[0].Value)
	assert.Equal(t, "ecmp_count", entry.Params[1].Name)
	assert.Equal(t, "5", entry.Params[1].Value)
	assert.Equal(t, "MyIngress.ecmp_group hdr.ipv4.dstAddr=10.0.0.1/32 -> MyIngress.set_ecmp_select(ecmp_base=0, ecmp_count=5)", entry.String())
}

func TestRenderDefaultRouteShowsZeroPrefix(t *testing.T) {
	inspector := NewInspector(loadBalanceRegistry(t))

	entry, err := inspector.Render("s1", &p4v1.TableEntry{
		TableId: 40004431,
		Action: &p4v1.TableAction{Type: &p4v1.TableAction_Action{Action: &p4v1.Action{
			ActionId: 19826232,
			Params: []*p4v1.Action_Param{
				{ParamId: 1, Value: []byte{0}},
				{ParamId: 2, Value: []byte{2}},
			},
		}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []RenderedMatch{{Field: "hdr.ipv4.dstAddr", Kind: "LPM", Value: "0.0.0.0/0"}}, entry.Match)
	assert.Equal(t, "MyIngress.ecmp_group hdr.ipv4.dstAddr=0.0.0.0/0 -> MyIngress.set_ecmp_select(ecmp_base=0, ecmp_count=2)", entry.String())

	// exact keys left out are not padded
	entry, err = inspector.Render("s1", &p4v1.TableEntry{TableId: 34452735})
	require.NoError(t, err)
	assert.Empty(t, entry.Match)
}

func TestDumpIsRestartable(t *testing.T) {
	registry := loadBalanceRegistry(t)
	agent := programmedSwitch(t, registry, []rules.Rule{
		rules.GroupRule{DstPrefix: "10.0.0.1", PrefixLen: 32, Base: 0, Count: 2},
		rules.NextHopRule{Selector: 0, DstMAC: "00:00:00:00:01:02", DstIP: "10.0.2.2", Port: 2},
		rules.NextHopRule{Selector: 1, DstMAC: "00:00:00:00:01:03", DstIP: "10.0.3.3", Port: 3},
	})
	inspector := NewInspector(registry)

	for i := 0; i < 2; i++ {
		stream, err := inspector.Dump(context.Background(), agent)
		require.NoError(t, err)
		entries := drain(t, stream)
		require.NoError(t, stream.Close())
		assert.Len(t, entries, 3)
	}

	stream, err := inspector.DumpTable(context.Background(), agent, "ecmp_nhop")
	require.NoError(t, err)
	entries := drain(t, stream)
	require.Len(t, entries, 2)
	assert.Equal(t, "MyIngress.set_nhop", entries[0].Action)
	assert.Equal(t, []RenderedParam{
		{Name: "nhop_dmac", Value: "00:00:00:00:01:02"},
		{Name: "nhop_ipv4", Value: "10.0.2.2"},
		{Name: "port", Value: "2"},
	}, entries[0].Params)
}

func TestDumpTableUnknownName(t *testing.T) {
	registry := loadBalanceRegistry(t)
	_, err := NewInspector(registry).DumpTable(context.Background(), nil, "MyIngress.missing")
	assert.True(t, errors.Is(err, utils.ErrUnknownTable))
}

// a registry that lacks a table the switch holds entries for reports a mismatch
func TestDumpSchemaMismatch(t *testing.T) {
	full := loadBalanceRegistry(t)
	agent := programmedSwitch(t, full, []rules.Rule{
		rules.NextHopRule{Selector: 0, DstMAC: "00:00:00:00:01:02", DstIP: "10.0.2.2", Port: 2},
	})

	info := proto.Clone(mocks.LoadBalanceP4Info()).(*configv1.P4Info)
	var tables []*configv1.Table
	for _, table := range info.GetTables() {
		if table.GetPreamble().GetName() != "MyIngress.ecmp_nhop" {
			tables = append(tables, table)
		}
	}
	info.Tables = tables
	partial, err := schema.New(info)
	require.NoError(t, err)

	stream, err := NewInspector(partial).Dump(context.Background(), agent)
	require.NoError(t, err)
	_, err = stream.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrSchemaMismatch))
	var mismatch *utils.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, utils.KindTable, mismatch.Kind)
	assert.Equal(t, uint32(34452735), mismatch.ID)

	// the failed stream released the switch
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	next, err := agent.ReadEntries(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, next.Close())
}

func TestRenderUnknownIDs(t *testing.T) {
	inspector := NewInspector(loadBalanceRegistry(t))

	_, err := inspector.Render("s1", &p4v1.TableEntry{TableId: 40004431, Match: []*p4v1.FieldMatch{{FieldId: 9}}})
	var mismatch *utils.SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, utils.KindField, mismatch.Kind)
	assert.Equal(t, "MyIngress.ecmp_group", mismatch.Scope)

	_, err = inspector.Render("s1", &p4v1.TableEntry{
		TableId: 40004431,
		Action:  &p4v1.TableAction{Type: &p4v1.TableAction_Action{Action: &p4v1.Action{ActionId: 1}}},
	})
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, utils.KindAction, mismatch.Kind)

	_, err = inspector.Render("s1", &p4v1.TableEntry{
		TableId: 40004431,
		Action: &p4v1.TableAction{Type: &p4v1.TableAction_Action{Action: &p4v1.Action{
			ActionId: 19826232,
			Params:   []*p4v1.Action_Param{{ParamId: 7, Value: []byte{1}}},
		}}},
	})
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, utils.KindParam, mismatch.Kind)
	assert.Equal(t, "MyIngress.set_ecmp_select", mismatch.Scope)
}

type recordingSink struct {
	entries []*RenderedEntry
}

func (s *recordingSink) Publish(ctx context.Context, entry *RenderedEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func TestPrint(t *testing.T) {
	registry := loadBalanceRegistry(t)
	agent := programmedSwitch(t, registry, []rules.Rule{
		rules.RewriteRule{EgressPort: 2, SrcMAC: "00:00:00:01:02:00"},
	})

	var out bytes.Buffer
	sink := &recordingSink{}
	count, err := NewInspector(registry).Print(context.Background(), agent, &out, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Contains(t, out.String(), "Reading tables rules for s1")
	assert.Contains(t, out.String(), "MyEgress.send_frame standard_metadata.egress_port=2 -> MyEgress.rewrite_mac(smac=00:00:00:01:02:00)")
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "MyEgress.send_frame", sink.entries[0].Table)
}

func TestKafkaSinkPublishesJSON(t *testing.T) {
	producer := saramamocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var entry RenderedEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return err
		}
		if entry.Table != "MyIngress.ecmp_group" || entry.Device != "s1" {
			return errors.New("unexpected record")
		}
		return nil
	})
	sink := NewKafkaSinkWithProducer(producer, "ecmp.audit")
	err := sink.Publish(context.Background(), &RenderedEntry{
		Device: "s1",
		Table:  "MyIngress.ecmp_group",
		Match:  []RenderedMatch{{Field: "hdr.ipv4.dstAddr", Kind: "LPM", Value: "10.0.0.1/32"}},
		Action: "MyIngress.set_ecmp_select",
	})
	assert.NoError(t, err)
	assert.NoError(t, sink.Close())
}

func TestKafkaSinkReportsFailure(t *testing.T) {
	producer := saramamocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))
	sink := NewKafkaSinkWithProducer(producer, "ecmp.audit")
	err := sink.Publish(context.Background(), &RenderedEntry{Device: "s1", Table: "MyIngress.ecmp_group"})
	assert.EqualError(t, err, "broker down")
	assert.NoError(t, sink.Close())
}
