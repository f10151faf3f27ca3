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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnknownEntitySentinels(t *testing.T) {
	tests := []struct {
		kind     EntityKind
		sentinel error
	}{
		{KindTable, ErrUnknownTable},
		{KindField, ErrUnknownField},
		{KindAction, ErrUnknownAction},
		{KindParam, ErrUnknownParam},
	}
	for _, tt := range tests {
		err := fmt.Errorf("build: %w", &UnknownEntityError{Kind: tt.kind, Name: "x"})
		assert.True(t, errors.Is(err, tt.sentinel), "kind %s", tt.kind)
		for _, other := range tests {
			if other.kind != tt.kind {
				assert.False(t, errors.Is(err, other.sentinel))
			}
		}
	}
}

func TestUnknownEntityMessage(t *testing.T) {
	err := &UnknownEntityError{Kind: KindField, Name: "hdr.ipv4.dstAddr", Scope: "MyIngress.ecmp_nhop"}
	assert.Equal(t, `unknown-match-field: name="hdr.ipv4.dstAddr" in MyIngress.ecmp_nhop`, err.Error())

	err = &UnknownEntityError{Kind: KindTable, ID: 42}
	assert.Equal(t, "unknown-table: id=42", err.Error())
}

func TestWrappedErrorsUnwrap(t *testing.T) {
	err := &TimeoutError{Device: "s1", Op: "write", Err: context.DeadlineExceeded}
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	cause := errors.New("connection refused")
	terr := &TransportError{Device: "s2", Address: "127.0.0.1:1", Err: cause}
	assert.True(t, errors.Is(terr, ErrTransport))
	assert.True(t, errors.Is(terr, cause))
	assert.False(t, errors.Is(terr, ErrArbitration))
}

func TestErrorsMapToGRPCCodes(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{&SchemaParseError{Source: "p4info", Err: errors.New("bad")}, codes.InvalidArgument},
		{&UnknownEntityError{Kind: KindAction, Name: "a"}, codes.NotFound},
		{&ValueOutOfRangeError{Field: "port", Value: "512", BitWidth: 9}, codes.OutOfRange},
		{&ArbitrationError{Device: "s1", Code: codes.AlreadyExists}, codes.PermissionDenied},
		{&WriteError{Device: "s1", Table: "t", Code: codes.InvalidArgument}, codes.InvalidArgument},
		{&TimeoutError{Device: "s1", Op: "read"}, codes.DeadlineExceeded},
		{&SchemaMismatchError{Device: "s1", Kind: KindTable, ID: 7}, codes.DataLoss},
		{&InvalidStateError{Device: "s1", Op: "write", State: "Connected", Required: "PipelineConfigured"}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(tt.err), tt.err.Error())
	}
}
