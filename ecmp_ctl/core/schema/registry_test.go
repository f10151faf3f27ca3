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
	"errors"
	"path/filepath"
	"testing"

	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const testP4Info = "testdata/load_balance.p4info.txt"

func loadTestRegistry(t *testing.T) *Registry {
	r, err := LoadFile(testP4Info)
	require.NoError(t, err)
	return r
}

func TestLoadFileText(t *testing.T) {
	r := loadTestRegistry(t)
	assert.Len(t, r.Tables(), 5)
	assert.Equal(t, "MyIngress.ecmp_group", r.Tables()[0].Name)

	id, err := r.TableIDByName("MyIngress.ecmp_group")
	require.NoError(t, err)
	assert.Equal(t, uint32(40004431), id)

	f, err := r.MatchField("MyIngress.ecmp_group", "hdr.ipv4.dstAddr")
	require.NoError(t, err)
	assert.Equal(t, MatchLPM, f.Kind)
	assert.Equal(t, uint32(32), f.BitWidth)
}

func TestLoadOtherFormats(t *testing.T) {
	src := loadTestRegistry(t).P4Info()

	bin, err := proto.Marshal(src)
	require.NoError(t, err)
	r, err := Load(bin, FormatBinary)
	require.NoError(t, err)
	assert.Len(t, r.Tables(), 5)

	js, err := protojson.Marshal(src)
	require.NoError(t, err)
	r, err = Load(js, FormatJSON)
	require.NoError(t, err)
	_, err = r.ActionIDByName("MyEgress.rewrite_mac")
	assert.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load([]byte("tables { preamble { id: "), FormatText)
	assert.True(t, errors.Is(err, utils.ErrSchemaParse))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.p4info.txt"))
	assert.True(t, errors.Is(err, utils.ErrSchemaParse))

	_, err = New(nil)
	assert.True(t, errors.Is(err, utils.ErrSchemaParse))
}

func TestNameIDRoundTrip(t *testing.T) {
	r := loadTestRegistry(t)
	for _, table := range r.Tables() {
		id, err := r.TableIDByName(table.Name)
		require.NoError(t, err)
		name, err := r.TableNameByID(id)
		require.NoError(t, err)
		assert.Equal(t, table.Name, name)

		for _, f := range table.MatchFields {
			fid, err := r.MatchFieldIDByName(table.Name, f.Name)
			require.NoError(t, err)
			fname, err := r.MatchFieldNameByID(table.Name, fid)
			require.NoError(t, err)
			assert.Equal(t, f.Name, fname)
		}
		for _, aid := range table.ActionIDs {
			aname, err := r.ActionNameByID(aid)
			require.NoError(t, err)
			back, err := r.ActionIDByName(aname)
			require.NoError(t, err)
			assert.Equal(t, aid, back)

			action, err := r.ActionByID(aid)
			require.NoError(t, err)
			for _, p := range action.Params {
				pid, err := r.ParamIDByName(aname, p.Name)
				require.NoError(t, err)
				pname, err := r.ParamNameByID(aname, pid)
				require.NoError(t, err)
				assert.Equal(t, p.Name, pname)
			}
		}
	}
}

func TestAliasLookup(t *testing.T) {
	r := loadTestRegistry(t)
	byAlias, err := r.TableIDByName("ecmp_nhop1")
	require.NoError(t, err)
	byName, err := r.TableIDByName("MyIngress.ecmp_nhop1")
	require.NoError(t, err)
	assert.Equal(t, byName, byAlias)

	name, err := r.ActionNameByID(28181055)
	require.NoError(t, err)
	assert.Equal(t, "MyIngress.set_nhop", name)
	id, err := r.ActionIDByName("set_nhop")
	require.NoError(t, err)
	assert.Equal(t, uint32(28181055), id)
}

func TestLookupMisses(t *testing.T) {
	r := loadTestRegistry(t)

	_, err := r.TableIDByName("MyIngress.nope")
	assert.True(t, errors.Is(err, utils.ErrUnknownTable))
	_, err = r.TableNameByID(1)
	assert.True(t, errors.Is(err, utils.ErrUnknownTable))

	_, err = r.MatchFieldIDByName("MyIngress.ecmp_group", "hdr.ipv4.srcAddr")
	assert.True(t, errors.Is(err, utils.ErrUnknownField))
	var unknown *utils.UnknownEntityError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "MyIngress.ecmp_group", unknown.Scope)

	_, err = r.ActionIDByName("MyIngress.set_nothing")
	assert.True(t, errors.Is(err, utils.ErrUnknownAction))

	_, err = r.ParamIDByName("MyIngress.set_nhop", "vlan")
	assert.True(t, errors.Is(err, utils.ErrUnknownParam))
	_, err = r.ParamNameByID("MyIngress.set_nhop", 9)
	assert.True(t, errors.Is(err, utils.ErrUnknownParam))
}

func TestActionAllowed(t *testing.T) {
	r := loadTestRegistry(t)
	ok, err := r.ActionAllowed("MyIngress.ecmp_nhop", "MyIngress.set_nhop")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ActionAllowed("MyEgress.send_frame", "MyIngress.set_nhop")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDuplicatesRejected(t *testing.T) {
	base := func() *configv1.P4Info {
		return &configv1.P4Info{
			Tables: []*configv1.Table{{
				Preamble: &configv1.Preamble{Id: 1, Name: "t"},
				MatchFields: []*configv1.MatchField{
					{Id: 1, Name: "f", Bitwidth: 8, Match: &configv1.MatchField_MatchType_{MatchType: configv1.MatchField_EXACT}},
				},
			}},
			Actions: []*configv1.Action{{
				Preamble: &configv1.Preamble{Id: 10, Name: "a"},
				Params:   []*configv1.Action_Param{{Id: 1, Name: "p", Bitwidth: 8}},
			}},
		}
	}

	_, err := New(base())
	require.NoError(t, err)

	info := base()
	info.Tables = append(info.Tables, &configv1.Table{Preamble: &configv1.Preamble{Id: 1, Name: "t2"}})
	_, err = New(info)
	assert.True(t, errors.Is(err, utils.ErrSchemaParse), "duplicate table id")

	info = base()
	info.Actions = append(info.Actions, &configv1.Action{Preamble: &configv1.Preamble{Id: 11, Name: "a"}})
	_, err = New(info)
	assert.True(t, errors.Is(err, utils.ErrSchemaParse), "duplicate action name")

	info = base()
	info.Tables[0].MatchFields = append(info.Tables[0].MatchFields,
		&configv1.MatchField{Id: 1, Name: "g", Bitwidth: 8, Match: &configv1.MatchField_MatchType_{MatchType: configv1.MatchField_EXACT}})
	_, err = New(info)
	assert.True(t, errors.Is(err, utils.ErrSchemaParse), "duplicate field id")

	info = base()
	info.Actions[0].Params = append(info.Actions[0].Params, &configv1.Action_Param{Id: 2, Name: "p", Bitwidth: 8})
	_, err = New(info)
	assert.True(t, errors.Is(err, utils.ErrSchemaParse), "duplicate param name")

	info = base()
	info.Tables[0].ActionRefs = []*configv1.ActionRef{{Id: 99}}
	_, err = New(info)
	assert.True(t, errors.Is(err, utils.ErrSchemaParse), "dangling action ref")
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatText, FormatFromPath("build/load_balance.p4.p4info.txt"))
	assert.Equal(t, FormatJSON, FormatFromPath("p4info.JSON"))
	assert.Equal(t, FormatBinary, FormatFromPath("p4info.bin"))
}
