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
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Ustinaian/P4-final/ecmp_ctl/core/codec"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/device"
	"github.com/Ustinaian/P4-final/ecmp_ctl/core/schema"
	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// EntryReader streams the entries installed on one switch; *device.Agent implements it
type EntryReader interface {
	Name() string
	ReadEntries(ctx context.Context, tableID uint32) (*device.EntryStream, error)
}

// Sink receives every rendered entry, e.g. for auditing
type Sink interface {
	Publish(ctx context.Context, entry *RenderedEntry) error
}

// RenderedMatch is one decoded key field
type RenderedMatch struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// RenderedParam is one decoded action parameter
type RenderedParam struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RenderedEntry is a table entry with every id replaced by its name and every value decoded
type RenderedEntry struct {
	Device   string          `json:"device"`
	Table    string          `json:"table"`
	Match    []RenderedMatch `json:"match"`
	Action   string          `json:"action"`
	Params   []RenderedParam `json:"params"`
	Priority int32           `json:"priority,omitempty"`
}

// String renders table, match fields, action and parameters, in that order
func (e *RenderedEntry) String() string {
	var b strings.Builder
	b.WriteString(e.Table)
	for _, m := range e.Match {
		fmt.Fprintf(&b, " %s=%s", m.Field, m.Value)
	}
	if e.Priority != 0 {
		fmt.Fprintf(&b, " priority=%d", e.Priority)
	}
	params := make([]string, 0, len(e.Params))
	for _, p := range e.Params {
		params = append(params, p.Name+"="+p.Value)
	}
	fmt.Fprintf(&b, " -> %s(%s)", e.Action, strings.Join(params, ", "))
	return b.String()
}

// Inspector renders installed entries against the loaded schema
type Inspector struct {
	registry *schema.Registry
}

func NewInspector(registry *schema.Registry) *Inspector {
	return &Inspector{registry: registry}
}

// EntryStream is a lazy, finite sequence of rendered entries. Dump again to restart.
type EntryStream struct {
	device    string
	raw       *device.EntryStream
	inspector *Inspector
}

// Next returns the next rendered entry, io.EOF at the end. A decode failure ends the stream.
func (s *EntryStream) Next() (*RenderedEntry, error) {
	te, err := s.raw.Recv()
	if err != nil {
		return nil, err
	}
	rendered, err := s.inspector.Render(s.device, te)
	if err != nil {
		_ = s.raw.Close()
		return nil, err
	}
	return rendered, nil
}

// Close abandons the stream and releases the switch
func (s *EntryStream) Close() error {
	return s.raw.Close()
}

// Dump reads back every table of the switch
func (i *Inspector) Dump(ctx context.Context, r EntryReader) (*EntryStream, error) {
	return i.dump(ctx, r, 0)
}

// DumpTable reads back one table, named by full name or alias
func (i *Inspector) DumpTable(ctx context.Context, r EntryReader, table string) (*EntryStream, error) {
	id, err := i.registry.TableIDByName(table)
	if err != nil {
		return nil, err
	}
	return i.dump(ctx, r, id)
}

func (i *Inspector) dump(ctx context.Context, r EntryReader, tableID uint32) (*EntryStream, error) {
	raw, err := r.ReadEntries(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return &EntryStream{device: r.Name(), raw: raw, inspector: i}, nil
}

// Render resolves the ids of one entry. Ids the schema does not know give a SchemaMismatchError.
func (i *Inspector) Render(deviceName string, te *p4v1.TableEntry) (*RenderedEntry, error) {
	table, err := i.registry.TableByID(te.GetTableId())
	if err != nil {
		return nil, &utils.SchemaMismatchError{Device: deviceName, Kind: utils.KindTable, ID: te.GetTableId()}
	}
	rendered := &RenderedEntry{Device: deviceName, Table: table.Name, Priority: te.GetPriority()}
	installed := make(map[uint32]*p4v1.FieldMatch, len(te.GetMatch()))
	for _, fm := range te.GetMatch() {
		if _, err := table.FieldByID(fm.GetFieldId()); err != nil {
			return nil, &utils.SchemaMismatchError{Device: deviceName, Kind: utils.KindField, ID: fm.GetFieldId(), Scope: table.Name}
		}
		installed[fm.GetFieldId()] = fm
	}
	// Key fields are listed in table order. An LPM field left out of the entry matches
	// everything and is shown as a /0 prefix.
	for _, field := range table.MatchFields {
		fm, ok := installed[field.ID]
		if !ok {
			if field.Kind == schema.MatchLPM {
				rendered.Match = append(rendered.Match, RenderedMatch{Field: field.Name, Kind: field.Kind.String(), Value: wildcardPrefix(field)})
			}
			continue
		}
		mv, err := codec.DecodeMatch(field, fm)
		if err != nil {
			logger.Debugw(context.Background(), "match-decode-failed", log.Fields{"device": deviceName, "table": table.Name, "field": field.Name, "error": err})
			return nil, &utils.SchemaMismatchError{Device: deviceName, Kind: utils.KindField, ID: fm.GetFieldId(), Scope: table.Name}
		}
		rendered.Match = append(rendered.Match, RenderedMatch{Field: field.Name, Kind: field.Kind.String(), Value: mv.String()})
	}

	act := te.GetAction().GetAction()
	if act == nil {
		rendered.Action = "(none)"
		return rendered, nil
	}
	action, err := i.registry.ActionByID(act.GetActionId())
	if err != nil {
		return nil, &utils.SchemaMismatchError{Device: deviceName, Kind: utils.KindAction, ID: act.GetActionId(), Scope: table.Name}
	}
	rendered.Action = action.Name
	for _, ap := range act.GetParams() {
		param, err := action.ParamByID(ap.GetParamId())
		if err != nil {
			return nil, &utils.SchemaMismatchError{Device: deviceName, Kind: utils.KindParam, ID: ap.GetParamId(), Scope: action.Name}
		}
		v, err := codec.DecodeParam(param, ap)
		if err != nil {
			return nil, &utils.SchemaMismatchError{Device: deviceName, Kind: utils.KindParam, ID: ap.GetParamId(), Scope: action.Name}
		}
		rendered.Params = append(rendered.Params, RenderedParam{Name: param.Name, Value: v.String()})
	}
	return rendered, nil
}

func wildcardPrefix(field *schema.MatchFieldSpec) string {
	zero := codec.NewValue(field.BitWidth, 0).WithFormat(codec.FormatOf(field.TypeName, field.Name, field.BitWidth, true))
	return codec.MatchValue{Field: field.Name, Kind: field.Kind, Value: zero}.String()
}

// Print writes one line per installed entry and hands each entry to the sinks. It returns the
// number of entries printed.
func (i *Inspector) Print(ctx context.Context, r EntryReader, w io.Writer, sinks ...Sink) (int, error) {
	stream, err := i.Dump(ctx, r)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	fmt.Fprintf(w, "----- Reading tables rules for %s -----\n", r.Name())
	count := 0
	for {
		entry, err := stream.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		fmt.Fprintln(w, entry.String())
		count++
		for _, sink := range sinks {
			if serr := sink.Publish(ctx, entry); serr != nil {
				logger.Warnw(ctx, "audit-publish-failed", log.Fields{"device": r.Name(), "table": entry.Table, "error": serr})
			}
		}
	}
}
