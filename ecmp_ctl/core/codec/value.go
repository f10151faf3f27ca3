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
	"fmt"
	"math/big"
	"net"
	"strings"

	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
)

// ByteWidth is the number of bytes needed to hold bitWidth bits
func ByteWidth(bitWidth uint32) int {
	return int((bitWidth + 7) / 8)
}

// Encode converts v into the fixed width big-endian byte string of a bitWidth wide field.
// Accepted values are integers, decimal or 0x-prefixed strings, dotted IPv4 and colon-hex MAC
// literals, net.IP, net.HardwareAddr, []byte, *big.Int and Value.
func Encode(bitWidth uint32, v interface{}) ([]byte, error) {
	return encode("", bitWidth, v)
}

func encode(field string, bitWidth uint32, v interface{}) ([]byte, error) {
	n, err := toBig(field, bitWidth, v)
	if err != nil {
		return nil, err
	}
	if n.Sign() < 0 {
		return nil, &utils.ValueOutOfRangeError{Field: field, Value: n.String(), BitWidth: bitWidth, Reason: "negative"}
	}
	if uint32(n.BitLen()) > bitWidth {
		return nil, &utils.ValueOutOfRangeError{Field: field, Value: render(FormatOf("", field, bitWidth, false), bitWidth, n), BitWidth: bitWidth}
	}
	return n.FillBytes(make([]byte, ByteWidth(bitWidth))), nil
}

// Decode reads a canonical (leading zeros stripped) or padded byte string of a bitWidth wide field
func Decode(bitWidth uint32, b []byte) (Value, error) {
	return decode("", bitWidth, FormatOf("", "", bitWidth, false), b)
}

func decode(field string, bitWidth uint32, format Format, b []byte) (Value, error) {
	n := new(big.Int).SetBytes(b)
	if uint32(n.BitLen()) > bitWidth {
		return Value{}, &utils.ValueOutOfRangeError{Field: field, Value: fmt.Sprintf("0x%x", b), BitWidth: bitWidth}
	}
	return Value{BitWidth: bitWidth, Format: format, n: n}, nil
}

// Format selects how a Value is displayed
type Format int

const (
	FormatNumber Format = iota
	FormatIPv4
	FormatMAC
)

// FormatOf picks the display format of a field or parameter. The P4 named type wins, then
// the field name. Without either hint a 48 bit value is a MAC and a 32 bit LPM key is an
// IPv4 prefix; everything else is a number.
func FormatOf(typeName, name string, bitWidth uint32, lpm bool) Format {
	if f, ok := formatHint(strings.ToLower(typeName), bitWidth); ok {
		return f
	}
	name = strings.ToLower(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if f, ok := formatHint(name, bitWidth); ok {
		return f
	}
	switch {
	case bitWidth == 48:
		return FormatMAC
	case bitWidth == 32 && lpm:
		return FormatIPv4
	}
	return FormatNumber
}

func formatHint(hint string, bitWidth uint32) (Format, bool) {
	switch {
	case hint == "":
	case bitWidth == 32 && (strings.Contains(hint, "ip4") || strings.Contains(hint, "ipv4")):
		return FormatIPv4, true
	case bitWidth == 48 && strings.Contains(hint, "mac"):
		return FormatMAC, true
	}
	return FormatNumber, false
}

func toBig(field string, bitWidth uint32, v interface{}) (*big.Int, error) {
	switch x := v.(type) {
	case Value:
		return x.big(), nil
	case *big.Int:
		return new(big.Int).Set(x), nil
	case uint:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), nil
	case uint64:
		return new(big.Int).SetUint64(x), nil
	case int:
		return big.NewInt(int64(x)), nil
	case int8:
		return big.NewInt(int64(x)), nil
	case int16:
		return big.NewInt(int64(x)), nil
	case int32:
		return big.NewInt(int64(x)), nil
	case int64:
		return big.NewInt(x), nil
	case net.IP:
		ip := x.To4()
		if ip == nil {
			return nil, &utils.MalformedAddressError{Literal: x.String(), Family: "ipv4"}
		}
		return new(big.Int).SetBytes(ip), nil
	case net.HardwareAddr:
		if len(x) != 6 {
			return nil, &utils.MalformedAddressError{Literal: x.String(), Family: "mac"}
		}
		return new(big.Int).SetBytes(x), nil
	case []byte:
		return new(big.Int).SetBytes(x), nil
	case string:
		return parseLiteral(field, bitWidth, x)
	}
	return nil, &utils.ValueOutOfRangeError{Field: field, Value: fmt.Sprintf("%v", v), BitWidth: bitWidth,
		Reason: fmt.Sprintf("unsupported value type %T", v)}
}

func parseLiteral(field string, bitWidth uint32, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.Contains(s, ":"):
		mac, err := ParseMAC(s)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetBytes(mac), nil
	case strings.Contains(s, "."):
		ip, err := ParseIPv4(s)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetBytes(ip), nil
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		if n, ok := new(big.Int).SetString(s[2:], 16); ok {
			return n, nil
		}
	default:
		if n, ok := new(big.Int).SetString(s, 10); ok {
			return n, nil
		}
	}
	return nil, &utils.ValueOutOfRangeError{Field: field, Value: s, BitWidth: bitWidth, Reason: "not a number"}
}

// ParseIPv4 parses a dotted quad
func ParseIPv4(s string) (net.IP, error) {
	if strings.Count(s, ".") != 3 {
		return nil, &utils.MalformedAddressError{Literal: s, Family: "ipv4"}
	}
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return nil, &utils.MalformedAddressError{Literal: s, Family: "ipv4"}
	}
	return ip, nil
}

// ParseMAC parses a six octet colon or dash separated hardware address
func ParseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil || len(mac) != 6 {
		return nil, &utils.MalformedAddressError{Literal: s, Family: "mac"}
	}
	return mac, nil
}

// Value is a decoded field or parameter
type Value struct {
	BitWidth uint32
	Format   Format
	n        *big.Int
}

// NewValue wraps an integer of the given width
func NewValue(bitWidth uint32, v uint64) Value {
	return Value{BitWidth: bitWidth, n: new(big.Int).SetUint64(v)}
}

// WithFormat returns v displayed as f
func (v Value) WithFormat(f Format) Value {
	v.Format = f
	return v
}

func (v Value) big() *big.Int {
	if v.n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.n)
}

// Uint64 returns the value when it fits 64 bits
func (v Value) Uint64() (uint64, bool) {
	n := v.big()
	return n.Uint64(), n.IsUint64()
}

// Bytes returns the padded big-endian encoding
func (v Value) Bytes() []byte {
	return v.big().FillBytes(make([]byte, ByteWidth(v.BitWidth)))
}

// IP interprets a 32 bit value as an IPv4 address
func (v Value) IP() net.IP {
	if v.BitWidth != 32 {
		return nil
	}
	return net.IP(v.Bytes())
}

// MAC interprets a 48 bit value as a hardware address
func (v Value) MAC() net.HardwareAddr {
	if v.BitWidth != 48 {
		return nil
	}
	return net.HardwareAddr(v.Bytes())
}

func (v Value) Equal(o Value) bool {
	return v.BitWidth == o.BitWidth && v.big().Cmp(o.big()) == 0
}

// String renders the value in its Format. Numbers are decimal up to 64 bits and hex beyond.
func (v Value) String() string {
	return render(v.Format, v.BitWidth, v.big())
}

func render(format Format, bitWidth uint32, n *big.Int) string {
	switch {
	case format == FormatMAC && n.BitLen() <= 48:
		return net.HardwareAddr(n.FillBytes(make([]byte, 6))).String()
	case format == FormatIPv4 && n.BitLen() <= 32:
		return net.IP(n.FillBytes(make([]byte, 4))).String()
	case bitWidth > 64:
		return "0x" + n.Text(16)
	}
	return n.String()
}

func maxValue(bitWidth uint32) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), uint(bitWidth))
	return m.Sub(m, big.NewInt(1))
}

// prefixMask returns a bitWidth wide mask with the top prefixLen bits set
func prefixMask(bitWidth, prefixLen uint32) *big.Int {
	m := maxValue(prefixLen)
	return m.Lsh(m, uint(bitWidth-prefixLen))
}
