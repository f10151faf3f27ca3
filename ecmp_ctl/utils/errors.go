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

package utils

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinels usable with errors.Is against any of the typed errors below
var (
	ErrSchemaParse      = errors.New("schema-parse-error")
	ErrUnknownTable     = errors.New("unknown-table")
	ErrUnknownField     = errors.New("unknown-field")
	ErrUnknownAction    = errors.New("unknown-action")
	ErrUnknownParam     = errors.New("unknown-param")
	ErrValueOutOfRange  = errors.New("value-out-of-range")
	ErrMalformedAddress = errors.New("malformed-address")
	ErrTransport        = errors.New("transport-error")
	ErrArbitration      = errors.New("arbitration-error")
	ErrPipelineConfig   = errors.New("pipeline-config-error")
	ErrWrite            = errors.New("write-error")
	ErrTimeout          = errors.New("timeout")
	ErrSchemaMismatch   = errors.New("schema-mismatch")
	ErrInvalidState     = errors.New("invalid-state")
)

// EntityKind names the kind of P4 object a lookup was made for
type EntityKind string

const (
	KindTable  EntityKind = "table"
	KindField  EntityKind = "match-field"
	KindAction EntityKind = "action"
	KindParam  EntityKind = "param"
)

func (k EntityKind) sentinel() error {
	switch k {
	case KindTable:
		return ErrUnknownTable
	case KindField:
		return ErrUnknownField
	case KindAction:
		return ErrUnknownAction
	default:
		return ErrUnknownParam
	}
}

// SchemaParseError is returned when the P4Info document cannot be parsed or is inconsistent
type SchemaParseError struct {
	Source string
	Err    error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("schema-parse-error: source=%s: %v", e.Source, e.Err)
}

func (e *SchemaParseError) Unwrap() error        { return e.Err }
func (e *SchemaParseError) Is(target error) bool { return target == ErrSchemaParse }
func (e *SchemaParseError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

// UnknownEntityError is returned when a name or id cannot be resolved against the loaded schema.
// Scope is the owning table or action for fields and params.
type UnknownEntityError struct {
	Kind  EntityKind
	Name  string
	ID    uint32
	Scope string
}

func (e *UnknownEntityError) Error() string {
	ref := fmt.Sprintf("name=%q", e.Name)
	if e.Name == "" {
		ref = fmt.Sprintf("id=%d", e.ID)
	}
	if e.Scope != "" {
		return fmt.Sprintf("unknown-%s: %s in %s", e.Kind, ref, e.Scope)
	}
	return fmt.Sprintf("unknown-%s: %s", e.Kind, ref)
}

func (e *UnknownEntityError) Is(target error) bool { return target == e.Kind.sentinel() }
func (e *UnknownEntityError) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, e.Error())
}

// ValueOutOfRangeError is returned when a value does not fit the declared bit width of a field or param
type ValueOutOfRangeError struct {
	Field    string
	Value    string
	BitWidth uint32
	Reason   string
}

func (e *ValueOutOfRangeError) Error() string {
	msg := fmt.Sprintf("value-out-of-range: field=%s value=%s bitwidth=%d", e.Field, e.Value, e.BitWidth)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ValueOutOfRangeError) Is(target error) bool { return target == ErrValueOutOfRange }
func (e *ValueOutOfRangeError) GRPCStatus() *status.Status {
	return status.New(codes.OutOfRange, e.Error())
}

// MalformedAddressError is returned for IPv4 or MAC literals that cannot be parsed
type MalformedAddressError struct {
	Literal string
	Family  string
}

func (e *MalformedAddressError) Error() string {
	return fmt.Sprintf("malformed-address: %s literal %q", e.Family, e.Literal)
}

func (e *MalformedAddressError) Is(target error) bool { return target == ErrMalformedAddress }
func (e *MalformedAddressError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

// TransportError reports a connection level failure towards a device
type TransportError struct {
	Device  string
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport-error: device=%s address=%s: %v", e.Device, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }
func (e *TransportError) GRPCStatus() *status.Status {
	return status.New(codes.Unavailable, e.Error())
}

// ArbitrationError is returned when the device refuses to grant mastership to this controller
type ArbitrationError struct {
	Device     string
	DeviceID   uint64
	ElectionID string
	Code       codes.Code
	Detail     string
}

func (e *ArbitrationError) Error() string {
	return fmt.Sprintf("arbitration-error: device=%s device-id=%d election-id=%s code=%s: %s",
		e.Device, e.DeviceID, e.ElectionID, e.Code, e.Detail)
}

func (e *ArbitrationError) Is(target error) bool { return target == ErrArbitration }
func (e *ArbitrationError) GRPCStatus() *status.Status {
	return status.New(codes.PermissionDenied, e.Error())
}

// PipelineConfigError is returned when the device rejects the forwarding pipeline
type PipelineConfigError struct {
	Device string
	Err    error
}

func (e *PipelineConfigError) Error() string {
	return fmt.Sprintf("pipeline-config-error: device=%s: %v", e.Device, e.Err)
}

func (e *PipelineConfigError) Unwrap() error        { return e.Err }
func (e *PipelineConfigError) Is(target error) bool { return target == ErrPipelineConfig }
func (e *PipelineConfigError) GRPCStatus() *status.Status {
	return status.New(codes.FailedPrecondition, e.Error())
}

// WriteError is a per-entry failure reported by the device
type WriteError struct {
	Device string
	Table  string
	Code   codes.Code
	Detail string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write-error: device=%s table=%s code=%s: %s", e.Device, e.Table, e.Code, e.Detail)
}

func (e *WriteError) Is(target error) bool { return target == ErrWrite }
func (e *WriteError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Error())
}

// TimeoutError is returned when a deadline elapses before the device acknowledged an operation
type TimeoutError struct {
	Device string
	Op     string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: device=%s op=%s: %v", e.Device, e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error        { return e.Err }
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
func (e *TimeoutError) GRPCStatus() *status.Status {
	return status.New(codes.DeadlineExceeded, e.Error())
}

// SchemaMismatchError is returned when the device reports an id the loaded schema does not know
type SchemaMismatchError struct {
	Device string
	Kind   EntityKind
	ID     uint32
	Scope  string
}

func (e *SchemaMismatchError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("schema-mismatch: device=%s %s id=%d in %s", e.Device, e.Kind, e.ID, e.Scope)
	}
	return fmt.Sprintf("schema-mismatch: device=%s %s id=%d", e.Device, e.Kind, e.ID)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }
func (e *SchemaMismatchError) GRPCStatus() *status.Status {
	return status.New(codes.DataLoss, e.Error())
}

// InvalidStateError is returned when an operation is attempted in the wrong lifecycle state
type InvalidStateError struct {
	Device   string
	Op       string
	State    string
	Required string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid-state: device=%s op=%s state=%s required=%s", e.Device, e.Op, e.State, e.Required)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
func (e *InvalidStateError) GRPCStatus() *status.Status {
	return status.New(codes.FailedPrecondition, e.Error())
}
