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

package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// Format is the serialisation of a P4Info document
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	default:
		return "binary"
	}
}

// FormatFromPath guesses the P4Info serialisation from a file extension
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".pbtxt", ".textproto":
		return FormatText
	case ".json":
		return FormatJSON
	default:
		return FormatBinary
	}
}

// MatchKind is the P4Runtime match type of a table key field
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchLPM
	MatchTernary
	MatchRange
	MatchOptional
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "EXACT"
	case MatchLPM:
		return "LPM"
	case MatchTernary:
		return "TERNARY"
	case MatchRange:
		return "RANGE"
	default:
		return "OPTIONAL"
	}
}

// ParamSpec describes one action parameter
type ParamSpec struct {
	ID       uint32
	Name     string
	BitWidth uint32
	// TypeName is the P4 named type of the parameter, empty when declared as plain bit<W>
	TypeName string
}

// MatchFieldSpec describes one key field of a table
type MatchFieldSpec struct {
	ID       uint32
	Name     string
	BitWidth uint32
	Kind     MatchKind
	TypeName string
}

// ActionSpec describes an action and its parameters, in declaration order
type ActionSpec struct {
	ID     uint32
	Name   string
	Alias  string
	Params []*ParamSpec

	paramsByName map[string]*ParamSpec
	paramsByID   map[uint32]*ParamSpec
}

// TableSpec describes a table, its key and the actions it may invoke
type TableSpec struct {
	ID          uint32
	Name        string
	Alias       string
	MatchFields []*MatchFieldSpec
	ActionIDs   []uint32

	fieldsByName map[string]*MatchFieldSpec
	fieldsByID   map[uint32]*MatchFieldSpec
	actionRefs   map[uint32]struct{}
}

// Registry resolves P4 object names to ids and back. It is immutable once built and safe for
// concurrent use.
type Registry struct {
	info *configv1.P4Info

	tablesByName  map[string]*TableSpec
	tablesByID    map[uint32]*TableSpec
	actionsByName map[string]*ActionSpec
	actionsByID   map[uint32]*ActionSpec
}

// LoadFile reads a P4Info document from disk, picking the format from the file extension
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &utils.SchemaParseError{Source: path, Err: err}
	}
	r, err := load(data, FormatFromPath(path), path)
	if err != nil {
		return nil, err
	}
	logger.Infow(context.Background(), "p4info-loaded", log.Fields{"path": path, "tables": len(r.tablesByID), "actions": len(r.actionsByID)})
	return r, nil
}

// Load parses a P4Info document held in memory
func Load(data []byte, format Format) (*Registry, error) {
	return load(data, format, format.String())
}

func load(data []byte, format Format, source string) (*Registry, error) {
	info := &configv1.P4Info{}
	var err error
	switch format {
	case FormatText:
		err = prototext.Unmarshal(data, info)
	case FormatJSON:
		err = protojson.Unmarshal(data, info)
	default:
		err = proto.Unmarshal(data, info)
	}
	if err != nil {
		return nil, &utils.SchemaParseError{Source: source, Err: err}
	}
	return newRegistry(info, source)
}

// New builds a registry from an already decoded P4Info
func New(info *configv1.P4Info) (*Registry, error) {
	if info == nil {
		return nil, &utils.SchemaParseError{Source: "p4info", Err: fmt.Errorf("nil p4info")}
	}
	return newRegistry(info, "p4info")
}

func newRegistry(info *configv1.P4Info, source string) (*Registry, error) {
	r := &Registry{
		info:          info,
		tablesByName:  make(map[string]*TableSpec),
		tablesByID:    make(map[uint32]*TableSpec),
		actionsByName: make(map[string]*ActionSpec),
		actionsByID:   make(map[uint32]*ActionSpec),
	}
	parseErr := func(format string, args ...interface{}) error {
		return &utils.SchemaParseError{Source: source, Err: fmt.Errorf(format, args...)}
	}

	actionAliases := make(map[string]*ActionSpec)
	for _, a := range info.GetActions() {
		pre := a.GetPreamble()
		if pre.GetId() == 0 || pre.GetName() == "" {
			return nil, parseErr("action with empty preamble")
		}
		if _, have := r.actionsByID[pre.GetId()]; have {
			return nil, parseErr("duplicate action id %d", pre.GetId())
		}
		if _, have := r.actionsByName[pre.GetName()]; have {
			return nil, parseErr("duplicate action name %q", pre.GetName())
		}
		spec := &ActionSpec{
			ID:           pre.GetId(),
			Name:         pre.GetName(),
			Alias:        pre.GetAlias(),
			paramsByName: make(map[string]*ParamSpec),
			paramsByID:   make(map[uint32]*ParamSpec),
		}
		for _, p := range a.GetParams() {
			if p.GetBitwidth() <= 0 {
				return nil, parseErr("param %q of action %q has bitwidth %d", p.GetName(), spec.Name, p.GetBitwidth())
			}
			if _, have := spec.paramsByID[p.GetId()]; have {
				return nil, parseErr("duplicate param id %d in action %q", p.GetId(), spec.Name)
			}
			if _, have := spec.paramsByName[p.GetName()]; have {
				return nil, parseErr("duplicate param name %q in action %q", p.GetName(), spec.Name)
			}
			ps := &ParamSpec{ID: p.GetId(), Name: p.GetName(), BitWidth: uint32(p.GetBitwidth()),
				TypeName: p.GetTypeName().GetName()}
			spec.Params = append(spec.Params, ps)
			spec.paramsByID[ps.ID] = ps
			spec.paramsByName[ps.Name] = ps
		}
		r.actionsByID[spec.ID] = spec
		r.actionsByName[spec.Name] = spec
		if spec.Alias != "" && spec.Alias != spec.Name {
			actionAliases[spec.Alias] = addAlias(actionAliases, spec.Alias, spec)
		}
	}
	for alias, spec := range actionAliases {
		if _, taken := r.actionsByName[alias]; spec != nil && !taken {
			r.actionsByName[alias] = spec
		}
	}

	tableAliases := make(map[string]*TableSpec)
	for _, t := range info.GetTables() {
		pre := t.GetPreamble()
		if pre.GetId() == 0 || pre.GetName() == "" {
			return nil, parseErr("table with empty preamble")
		}
		if _, have := r.tablesByID[pre.GetId()]; have {
			return nil, parseErr("duplicate table id %d", pre.GetId())
		}
		if _, have := r.tablesByName[pre.GetName()]; have {
			return nil, parseErr("duplicate table name %q", pre.GetName())
		}
		spec := &TableSpec{
			ID:           pre.GetId(),
			Name:         pre.GetName(),
			Alias:        pre.GetAlias(),
			fieldsByName: make(map[string]*MatchFieldSpec),
			fieldsByID:   make(map[uint32]*MatchFieldSpec),
			actionRefs:   make(map[uint32]struct{}),
		}
		for _, mf := range t.GetMatchFields() {
			if mf.GetBitwidth() <= 0 {
				return nil, parseErr("match field %q of table %q has bitwidth %d", mf.GetName(), spec.Name, mf.GetBitwidth())
			}
			if _, have := spec.fieldsByID[mf.GetId()]; have {
				return nil, parseErr("duplicate match field id %d in table %q", mf.GetId(), spec.Name)
			}
			if _, have := spec.fieldsByName[mf.GetName()]; have {
				return nil, parseErr("duplicate match field name %q in table %q", mf.GetName(), spec.Name)
			}
			kind, err := matchKind(mf)
			if err != nil {
				return nil, parseErr("match field %q of table %q: %v", mf.GetName(), spec.Name, err)
			}
			fs := &MatchFieldSpec{ID: mf.GetId(), Name: mf.GetName(), BitWidth: uint32(mf.GetBitwidth()), Kind: kind,
				TypeName: mf.GetTypeName().GetName()}
			spec.MatchFields = append(spec.MatchFields, fs)
			spec.fieldsByID[fs.ID] = fs
			spec.fieldsByName[fs.Name] = fs
		}
		for _, ref := range t.GetActionRefs() {
			if _, ok := r.actionsByID[ref.GetId()]; !ok {
				return nil, parseErr("table %q references unknown action id %d", spec.Name, ref.GetId())
			}
			if _, have := spec.actionRefs[ref.GetId()]; have {
				continue
			}
			spec.actionRefs[ref.GetId()] = struct{}{}
			spec.ActionIDs = append(spec.ActionIDs, ref.GetId())
		}
		r.tablesByID[spec.ID] = spec
		r.tablesByName[spec.Name] = spec
		if spec.Alias != "" && spec.Alias != spec.Name {
			tableAliases[spec.Alias] = addAlias(tableAliases, spec.Alias, spec)
		}
	}
	for alias, spec := range tableAliases {
		if _, taken := r.tablesByName[alias]; spec != nil && !taken {
			r.tablesByName[alias] = spec
		}
	}
	return r, nil
}

// addAlias returns the object an alias should resolve to, or nil once two objects share it
func addAlias[T any](aliases map[string]*T, alias string, spec *T) *T {
	if prev, seen := aliases[alias]; seen && prev != spec {
		return nil
	}
	return spec
}

func matchKind(mf *configv1.MatchField) (MatchKind, error) {
	switch mf.GetMatchType() {
	case configv1.MatchField_EXACT:
		return MatchExact, nil
	case configv1.MatchField_LPM:
		return MatchLPM, nil
	case configv1.MatchField_TERNARY:
		return MatchTernary, nil
	case configv1.MatchField_RANGE:
		return MatchRange, nil
	case configv1.MatchField_OPTIONAL:
		return MatchOptional, nil
	}
	if other := mf.GetOtherMatchType(); other != "" {
		return 0, fmt.Errorf("unsupported match type %q", other)
	}
	return 0, fmt.Errorf("unspecified match type")
}

// P4Info returns the document the registry was built from. Callers must not modify it.
func (r *Registry) P4Info() *configv1.P4Info {
	return r.info
}

// Tables lists every table in declaration order
func (r *Registry) Tables() []*TableSpec {
	tables := make([]*TableSpec, 0, len(r.info.GetTables()))
	for _, t := range r.info.GetTables() {
		tables = append(tables, r.tablesByID[t.GetPreamble().GetId()])
	}
	return tables
}

// Table resolves a table by fully qualified name or alias
func (r *Registry) Table(name string) (*TableSpec, error) {
	if t, ok := r.tablesByName[name]; ok {
		return t, nil
	}
	return nil, &utils.UnknownEntityError{Kind: utils.KindTable, Name: name}
}

func (r *Registry) TableByID(id uint32) (*TableSpec, error) {
	if t, ok := r.tablesByID[id]; ok {
		return t, nil
	}
	return nil, &utils.UnknownEntityError{Kind: utils.KindTable, ID: id}
}

func (r *Registry) TableIDByName(name string) (uint32, error) {
	t, err := r.Table(name)
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (r *Registry) TableNameByID(id uint32) (string, error) {
	t, err := r.TableByID(id)
	if err != nil {
		return "", err
	}
	return t.Name, nil
}

// Action resolves an action by fully qualified name or alias
func (r *Registry) Action(name string) (*ActionSpec, error) {
	if a, ok := r.actionsByName[name]; ok {
		return a, nil
	}
	return nil, &utils.UnknownEntityError{Kind: utils.KindAction, Name: name}
}

func (r *Registry) ActionByID(id uint32) (*ActionSpec, error) {
	if a, ok := r.actionsByID[id]; ok {
		return a, nil
	}
	return nil, &utils.UnknownEntityError{Kind: utils.KindAction, ID: id}
}

func (r *Registry) ActionIDByName(name string) (uint32, error) {
	a, err := r.Action(name)
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

func (r *Registry) ActionNameByID(id uint32) (string, error) {
	a, err := r.ActionByID(id)
	if err != nil {
		return "", err
	}
	return a.Name, nil
}

// MatchField resolves a key field of the named table
func (r *Registry) MatchField(table, field string) (*MatchFieldSpec, error) {
	t, err := r.Table(table)
	if err != nil {
		return nil, err
	}
	return t.Field(field)
}

func (r *Registry) MatchFieldIDByName(table, field string) (uint32, error) {
	f, err := r.MatchField(table, field)
	if err != nil {
		return 0, err
	}
	return f.ID, nil
}

func (r *Registry) MatchFieldNameByID(table string, id uint32) (string, error) {
	t, err := r.Table(table)
	if err != nil {
		return "", err
	}
	f, err := t.FieldByID(id)
	if err != nil {
		return "", err
	}
	return f.Name, nil
}

// Param resolves a parameter of the named action
func (r *Registry) Param(action, param string) (*ParamSpec, error) {
	a, err := r.Action(action)
	if err != nil {
		return nil, err
	}
	return a.Param(param)
}

func (r *Registry) ParamIDByName(action, param string) (uint32, error) {
	p, err := r.Param(action, param)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (r *Registry) ParamNameByID(action string, id uint32) (string, error) {
	a, err := r.Action(action)
	if err != nil {
		return "", err
	}
	p, err := a.ParamByID(id)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

// ActionAllowed reports whether the table lists the action among its action refs
func (r *Registry) ActionAllowed(table, action string) (bool, error) {
	t, err := r.Table(table)
	if err != nil {
		return false, err
	}
	a, err := r.Action(action)
	if err != nil {
		return false, err
	}
	return t.HasAction(a.ID), nil
}

func (t *TableSpec) Field(name string) (*MatchFieldSpec, error) {
	if f, ok := t.fieldsByName[name]; ok {
		return f, nil
	}
	return nil, &utils.UnknownEntityError{Kind: utils.KindField, Name: name, Scope: t.Name}
}

func (t *TableSpec) FieldByID(id uint32) (*MatchFieldSpec, error) {
	if f, ok := t.fieldsByID[id]; ok {
		return f, nil
	}
	return nil, &utils.UnknownEntityError{Kind: utils.KindField, ID: id, Scope: t.Name}
}

func (t *TableSpec) HasAction(id uint32) bool {
	_, ok := t.actionRefs[id]
	return ok
}

func (a *ActionSpec) Param(name string) (*ParamSpec, error) {
	if p, ok := a.paramsByName[name]; ok {
		return p, nil
	}
	return nil, &utils.UnknownEntityError{Kind: utils.KindParam, Name: name, Scope: a.Name}
}

func (a *ActionSpec) ParamByID(id uint32) (*ParamSpec, error) {
	if p, ok := a.paramsByID[id]; ok {
		return p, nil
	}
	return nil, &utils.UnknownEntityError{Kind: utils.KindParam, ID: id, Scope: a.Name}
}
