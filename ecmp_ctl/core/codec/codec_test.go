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

package codec

import (
	"errors"
	"net"
	"testing"

	"github.com/Ustinaian/P4-final/ecmp_ctl/core/schema"
	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFixedWidth(t *testing.T) {
	tests := []struct {
		width uint32
		value interface{}
		want  []byte
	}{
		{9, 2, []byte{0x00, 0x02}},
		{9, uint16(511), []byte{0x01, 0xff}},
		{14, "0x1", []byte{0x00, 0x01}},
		{16, "4", []byte{0x00, 0x04}},
		{32, "10.0.2.2", []byte{10, 0, 2, 2}},
		{32, net.IPv4(10, 0, 3, 3), []byte{10, 0, 3, 3}},
		{48, "00:00:00:00:01:02", []byte{0, 0, 0, 0, 1, 2}},
		{48, net.HardwareAddr{0, 0, 0, 0, 3, 3}, []byte{0, 0, 0, 0, 3, 3}},
	}
	for _, tt := range tests {
		b, err := Encode(tt.width, tt.value)
		require.NoError(t, err, "%v", tt.value)
		assert.Equal(t, tt.want, b, "%v", tt.value)
		assert.Len(t, b, ByteWidth(tt.width))
	}
}

func TestEncodeOutOfRange(t *testing.T) {
	_, err := Encode(9, 512)
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))

	_, err = Encode(9, -1)
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))

	_, err = Encode(32, "00:00:01:00:00:02")
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))

	_, err = Encode(16, "twelve")
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))

	_, err = Encode(16, 3.5)
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))
}

func TestEncodeMalformedAddress(t *testing.T) {
	for _, literal := range []string{"10.0.300.1", "10.0.1", "00:11:22:33:44", "zz:00:00:00:00:00"} {
		_, err := Encode(48, literal)
		assert.True(t, errors.Is(err, utils.ErrMalformedAddress), literal)
	}
	_, err := ParseIPv4("::1")
	assert.True(t, errors.Is(err, utils.ErrMalformedAddress))
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		width uint32
		value uint64
	}{
		{1, 1}, {9, 0}, {9, 511}, {14, 5}, {16, 1}, {32, 0xffffffff}, {48, 0x0000000a0b0c}, {64, 1<<64 - 1},
	}
	for _, tt := range tests {
		b, err := Encode(tt.width, tt.value)
		require.NoError(t, err)
		v, err := Decode(tt.width, b)
		require.NoError(t, err)
		got, ok := v.Uint64()
		assert.True(t, ok)
		assert.Equal(t, tt.value, got)
	}
}

func TestDecodeCanonicalAndPadded(t *testing.T) {
	short, err := Decode(9, []byte{0x02})
	require.NoError(t, err)
	padded, err := Decode(9, []byte{0x00, 0x02})
	require.NoError(t, err)
	assert.True(t, short.Equal(padded))
	assert.Equal(t, "2", short.String())

	_, err = Decode(9, []byte{0x02, 0x00})
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))
}

func TestValueRendering(t *testing.T) {
	mac, err := Decode(48, []byte{0, 0, 0, 0, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, "00:00:00:00:01:01", mac.String())
	assert.Equal(t, net.HardwareAddr{0, 0, 0, 0, 1, 1}, mac.MAC())

	ip, err := Decode(32, []byte{10, 0, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, "167772417", ip.String())
	assert.Equal(t, "10.0.1.1", ip.WithFormat(FormatIPv4).String())
	assert.True(t, ip.IP().Equal(net.IPv4(10, 0, 1, 1)))
	assert.Nil(t, ip.MAC())

	wide, err := Decode(128, []byte{1, 0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "0x10000000000000000", wide.String())

	assert.Equal(t, "14", NewValue(16, 14).String())
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		typeName string
		name     string
		width    uint32
		lpm      bool
		want     Format
	}{
		{"ip4Addr_t", "nexthop", 32, false, FormatIPv4},
		{"macAddr_t", "dst", 48, false, FormatMAC},
		{"ip4Addr_t", "nexthop", 16, false, FormatNumber},
		{"egressSpec_t", "port", 9, false, FormatNumber},
		{"", "nhop_ipv4", 32, false, FormatIPv4},
		{"", "hdr.ipv4.dstAddr", 32, false, FormatNumber},
		{"", "hdr.ipv4.dstAddr", 32, true, FormatIPv4},
		{"", "nhop_dmac", 48, false, FormatMAC},
		{"", "ecmp_count", 32, false, FormatNumber},
		{"", "meta.ecmp_select", 14, false, FormatNumber},
		{"", "dstAddr", 48, false, FormatMAC},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatOf(tt.typeName, tt.name, tt.width, tt.lpm), "%s %s/%d", tt.typeName, tt.name, tt.width)
	}
}

func TestUntypedWordParamIsDecimal(t *testing.T) {
	count := &schema.ParamSpec{ID: 2, Name: "ecmp_count", BitWidth: 32}
	ap, err := EncodeParam(count, 5)
	require.NoError(t, err)
	v, err := DecodeParam(count, ap)
	require.NoError(t, err)
	assert.Equal(t, "5", v.String())

	nexthop := &schema.ParamSpec{ID: 3, Name: "nexthop", BitWidth: 32, TypeName: "ip4Addr_t"}
	ap, err = EncodeParam(nexthop, "10.0.2.2")
	require.NoError(t, err)
	v, err = DecodeParam(nexthop, ap)
	require.NoError(t, err)
	assert.Equal(t, "10.0.2.2", v.String())

	key := &schema.MatchFieldSpec{ID: 1, Name: "meta.flow_id", BitWidth: 32, Kind: schema.MatchExact}
	fm, err := EncodeMatch(key, 7)
	require.NoError(t, err)
	mv, err := DecodeMatch(key, fm)
	require.NoError(t, err)
	assert.Equal(t, "7", mv.String())
}

var (
	dstAddr   = &schema.MatchFieldSpec{ID: 1, Name: "hdr.ipv4.dstAddr", BitWidth: 32, Kind: schema.MatchLPM}
	selector  = &schema.MatchFieldSpec{ID: 1, Name: "meta.ecmp_select", BitWidth: 14, Kind: schema.MatchExact}
	dscp      = &schema.MatchFieldSpec{ID: 2, Name: "hdr.ipv4.diffserv", BitWidth: 8, Kind: schema.MatchTernary}
	l4Port    = &schema.MatchFieldSpec{ID: 3, Name: "meta.l4_dport", BitWidth: 16, Kind: schema.MatchRange}
	vlan      = &schema.MatchFieldSpec{ID: 4, Name: "hdr.vlan.vid", BitWidth: 12, Kind: schema.MatchOptional}
	nhopDmac  = &schema.ParamSpec{ID: 1, Name: "nhop_dmac", BitWidth: 48}
	egressPrt = &schema.ParamSpec{ID: 3, Name: "port", BitWidth: 9}
)

func TestLPMMatch(t *testing.T) {
	fm, err := EncodeMatch(dstAddr, LPM{Value: "10.0.0.1", PrefixLen: 32})
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 0, 0, 1}, fm.GetLpm().GetValue())
	assert.Equal(t, int32(32), fm.GetLpm().GetPrefixLen())

	mv, err := DecodeMatch(dstAddr, fm)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1/32", mv.String())

	// host bits are cleared
	fm, err = EncodeMatch(dstAddr, "10.0.2.77/24")
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 0, 2, 0}, fm.GetLpm().GetValue())
	mv, err = DecodeMatch(dstAddr, fm)
	require.NoError(t, err)
	assert.Equal(t, uint32(24), mv.PrefixLen)
	assert.Equal(t, "10.0.2.0", mv.Value.String())

	_, err = EncodeMatch(dstAddr, LPM{Value: "10.0.0.1", PrefixLen: 33})
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))

	fm, err = EncodeMatch(dstAddr, LPM{Value: "10.0.0.1", PrefixLen: 0})
	require.NoError(t, err)
	assert.Nil(t, fm)
}

func TestExactAndOptionalMatch(t *testing.T) {
	fm, err := EncodeMatch(selector, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), fm.GetFieldId())
	assert.Equal(t, []byte{0, 1}, fm.GetExact().GetValue())
	mv, err := DecodeMatch(selector, fm)
	require.NoError(t, err)
	assert.Equal(t, "1", mv.String())

	_, err = EncodeMatch(selector, 1<<14)
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))

	fm, err = EncodeMatch(vlan, 100)
	require.NoError(t, err)
	assert.NotNil(t, fm.GetOptional())
	mv, err = DecodeMatch(vlan, fm)
	require.NoError(t, err)
	assert.Equal(t, "100", mv.String())
}

func TestTernaryMatch(t *testing.T) {
	fm, err := EncodeMatch(dscp, Ternary{Value: 0xff, Mask: 0xf0})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xf0}, fm.GetTernary().GetValue())
	assert.Equal(t, []byte{0xf0}, fm.GetTernary().GetMask())
	mv, err := DecodeMatch(dscp, fm)
	require.NoError(t, err)
	assert.Equal(t, "240 &&& 240", mv.String())

	fm, err = EncodeMatch(dscp, Ternary{Value: 3, Mask: 0})
	require.NoError(t, err)
	assert.Nil(t, fm)

	_, err = EncodeMatch(dscp, 3)
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))
}

func TestRangeMatch(t *testing.T) {
	fm, err := EncodeMatch(l4Port, Range{Low: 80, High: 8080})
	require.NoError(t, err)
	mv, err := DecodeMatch(l4Port, fm)
	require.NoError(t, err)
	assert.Equal(t, "80..8080", mv.String())

	_, err = EncodeMatch(l4Port, Range{Low: 9, High: 8})
	assert.True(t, errors.Is(err, utils.ErrValueOutOfRange))

	fm, err = EncodeMatch(l4Port, Range{Low: 0, High: 0xffff})
	require.NoError(t, err)
	assert.Nil(t, fm)
}

func TestDecodeMatchKindMismatch(t *testing.T) {
	fm := &p4v1.FieldMatch{FieldId: 1, FieldMatchType: &p4v1.FieldMatch_Exact_{Exact: &p4v1.FieldMatch_Exact{Value: []byte{10, 0, 0, 1}}}}
	_, err := DecodeMatch(dstAddr, fm)
	assert.Error(t, err)
}

func TestParamRoundTrip(t *testing.T) {
	ap, err := EncodeParam(nhopDmac, "00:00:00:00:01:02")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), ap.GetParamId())
	v, err := DecodeParam(nhopDmac, ap)
	require.NoError(t, err)
	assert.Equal(t, "00:00:00:00:01:02", v.String())

	ap, err = EncodeParam(egressPrt, 3)
	require.NoError(t, err)
	v, err = DecodeParam(egressPrt, ap)
	require.NoError(t, err)
	got, _ := v.Uint64()
	assert.Equal(t, uint64(3), got)

	_, err = EncodeParam(egressPrt, 600)
	var oor *utils.ValueOutOfRangeError
	require.True(t, errors.As(err, &oor))
	assert.Equal(t, "port", oor.Field)
	assert.Equal(t, uint32(9), oor.BitWidth)
}
