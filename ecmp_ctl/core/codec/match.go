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
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/Ustinaian/P4-final/ecmp_ctl/core/schema"
	"github.com/Ustinaian/P4-final/ecmp_ctl/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
)

// LPM is a longest prefix match value. A string of the form "a.b.c.d/len" is accepted too.
type LPM struct {
	Value     interface{}
	PrefixLen uint32
}

// Ternary is a value/mask pair
type Ternary struct {
	Value interface{}
	Mask  interface{}
}

// Range is an inclusive [Low, High] interval
type Range struct {
	Low  interface{}
	High interface{}
}

// MatchValue is the decoded form of a p4v1.FieldMatch
type MatchValue struct {
	Field     string
	Kind      schema.MatchKind
	Value     Value
	PrefixLen uint32
	Mask      Value
	Low       Value
	High      Value
}

func (m MatchValue) String() string {
	switch m.Kind {
	case schema.MatchLPM:
		return fmt.Sprintf("%s/%d", m.Value, m.PrefixLen)
	case schema.MatchTernary:
		return fmt.Sprintf("%s &&& %s", m.Value, m.Mask)
	case schema.MatchRange:
		return fmt.Sprintf("%s..%s", m.Low, m.High)
	}
	return m.Value.String()
}

// EncodeMatch builds the FieldMatch for one key field. A nil match with a nil error means the
// field is a wildcard and must be left out of the entry.
func EncodeMatch(field *schema.MatchFieldSpec, v interface{}) (*p4v1.FieldMatch, error) {
	fm := &p4v1.FieldMatch{FieldId: field.ID}
	switch field.Kind {
	case schema.MatchExact:
		b, err := encode(field.Name, field.BitWidth, v)
		if err != nil {
			return nil, err
		}
		fm.FieldMatchType = &p4v1.FieldMatch_Exact_{Exact: &p4v1.FieldMatch_Exact{Value: b}}
	case schema.MatchOptional:
		b, err := encode(field.Name, field.BitWidth, v)
		if err != nil {
			return nil, err
		}
		fm.FieldMatchType = &p4v1.FieldMatch_Optional_{Optional: &p4v1.FieldMatch_Optional{Value: b}}
	case schema.MatchLPM:
		lpm, err := asLPM(field, v)
		if err != nil {
			return nil, err
		}
		if lpm.PrefixLen > field.BitWidth {
			return nil, &utils.ValueOutOfRangeError{Field: field.Name, Value: fmt.Sprintf("%v/%d", lpm.Value, lpm.PrefixLen),
				BitWidth: field.BitWidth, Reason: "prefix length exceeds field width"}
		}
		n, err := checked(field.Name, field.BitWidth, lpm.Value)
		if err != nil {
			return nil, err
		}
		if lpm.PrefixLen == 0 {
			return nil, nil
		}
		n.And(n, prefixMask(field.BitWidth, lpm.PrefixLen))
		fm.FieldMatchType = &p4v1.FieldMatch_Lpm{Lpm: &p4v1.FieldMatch_LPM{
			Value:     n.FillBytes(make([]byte, ByteWidth(field.BitWidth))),
			PrefixLen: int32(lpm.PrefixLen),
		}}
	case schema.MatchTernary:
		t, ok := v.(Ternary)
		if !ok {
			return nil, kindMismatch(field, v)
		}
		value, err := checked(field.Name, field.BitWidth, t.Value)
		if err != nil {
			return nil, err
		}
		mask, err := checked(field.Name, field.BitWidth, t.Mask)
		if err != nil {
			return nil, err
		}
		if mask.Sign() == 0 {
			return nil, nil
		}
		value.And(value, mask)
		width := ByteWidth(field.BitWidth)
		fm.FieldMatchType = &p4v1.FieldMatch_Ternary_{Ternary: &p4v1.FieldMatch_Ternary{
			Value: value.FillBytes(make([]byte, width)),
			Mask:  mask.FillBytes(make([]byte, width)),
		}}
	case schema.MatchRange:
		r, ok := v.(Range)
		if !ok {
			return nil, kindMismatch(field, v)
		}
		low, err := checked(field.Name, field.BitWidth, r.Low)
		if err != nil {
			return nil, err
		}
		high, err := checked(field.Name, field.BitWidth, r.High)
		if err != nil {
			return nil, err
		}
		if low.Cmp(high) > 0 {
			return nil, &utils.ValueOutOfRangeError{Field: field.Name, Value: fmt.Sprintf("%s..%s", low, high),
				BitWidth: field.BitWidth, Reason: "low bound above high bound"}
		}
		if low.Sign() == 0 && high.Cmp(maxValue(field.BitWidth)) == 0 {
			return nil, nil
		}
		width := ByteWidth(field.BitWidth)
		fm.FieldMatchType = &p4v1.FieldMatch_Range_{Range: &p4v1.FieldMatch_Range{
			Low:  low.FillBytes(make([]byte, width)),
			High: high.FillBytes(make([]byte, width)),
		}}
	default:
		return nil, kindMismatch(field, v)
	}
	return fm, nil
}

// checked encodes v and hands back the integer it stands for
func checked(field string, bitWidth uint32, v interface{}) (*big.Int, error) {
	b, err := encode(field, bitWidth, v)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func asLPM(field *schema.MatchFieldSpec, v interface{}) (LPM, error) {
	switch x := v.(type) {
	case LPM:
		return x, nil
	case *LPM:
		return *x, nil
	case string:
		if i := strings.IndexByte(x, '/'); i >= 0 {
			plen, err := strconv.ParseUint(strings.TrimSpace(x[i+1:]), 10, 32)
			if err != nil {
				return LPM{}, &utils.ValueOutOfRangeError{Field: field.Name, Value: x, BitWidth: field.BitWidth, Reason: "bad prefix length"}
			}
			return LPM{Value: x[:i], PrefixLen: uint32(plen)}, nil
		}
	case Ternary, Range:
		return LPM{}, kindMismatch(field, v)
	}
	// a bare value is a host route
	return LPM{Value: v, PrefixLen: field.BitWidth}, nil
}

func kindMismatch(field *schema.MatchFieldSpec, v interface{}) error {
	return &utils.ValueOutOfRangeError{Field: field.Name, Value: fmt.Sprintf("%v", v), BitWidth: field.BitWidth,
		Reason: fmt.Sprintf("%T does not fit a %s match", v, field.Kind)}
}

// DecodeMatch is the inverse of EncodeMatch
func DecodeMatch(field *schema.MatchFieldSpec, fm *p4v1.FieldMatch) (MatchValue, error) {
	mv := MatchValue{Field: field.Name, Kind: field.Kind}
	format := FormatOf(field.TypeName, field.Name, field.BitWidth, field.Kind == schema.MatchLPM)
	var err error
	switch m := fm.GetFieldMatchType().(type) {
	case *p4v1.FieldMatch_Exact_:
		if field.Kind != schema.MatchExact {
			break
		}
		mv.Value, err = decode(field.Name, field.BitWidth, format, m.Exact.GetValue())
		return mv, err
	case *p4v1.FieldMatch_Optional_:
		if field.Kind != schema.MatchOptional {
			break
		}
		mv.Value, err = decode(field.Name, field.BitWidth, format, m.Optional.GetValue())
		return mv, err
	case *p4v1.FieldMatch_Lpm:
		if field.Kind != schema.MatchLPM {
			break
		}
		mv.PrefixLen = uint32(m.Lpm.GetPrefixLen())
		mv.Value, err = decode(field.Name, field.BitWidth, format, m.Lpm.GetValue())
		return mv, err
	case *p4v1.FieldMatch_Ternary_:
		if field.Kind != schema.MatchTernary {
			break
		}
		if mv.Value, err = decode(field.Name, field.BitWidth, format, m.Ternary.GetValue()); err != nil {
			return mv, err
		}
		mv.Mask, err = decode(field.Name, field.BitWidth, format, m.Ternary.GetMask())
		return mv, err
	case *p4v1.FieldMatch_Range_:
		if field.Kind != schema.MatchRange {
			break
		}
		if mv.Low, err = decode(field.Name, field.BitWidth, format, m.Range.GetLow()); err != nil {
			return mv, err
		}
		mv.High, err = decode(field.Name, field.BitWidth, format, m.Range.GetHigh())
		return mv, err
	}
	logger.Debugw(context.Background(), "field-match-kind-mismatch", log.Fields{"field": field.Name, "kind": field.Kind.String(), "match": fm.String()})
	return mv, &utils.ValueOutOfRangeError{Field: field.Name, Value: fm.String(), BitWidth: field.BitWidth,
		Reason: fmt.Sprintf("installed match is not %s", field.Kind)}
}

// EncodeParam builds an action parameter
func EncodeParam(param *schema.ParamSpec, v interface{}) (*p4v1.Action_Param, error) {
	b, err := encode(param.Name, param.BitWidth, v)
	if err != nil {
		return nil, err
	}
	return &p4v1.Action_Param{ParamId: param.ID, Value: b}, nil
}

// DecodeParam is the inverse of EncodeParam
func DecodeParam(param *schema.ParamSpec, ap *p4v1.Action_Param) (Value, error) {
	return decode(param.Name, param.BitWidth, FormatOf(param.TypeName, param.Name, param.BitWidth, false), ap.GetValue())
}
