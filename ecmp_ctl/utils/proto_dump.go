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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// ProtoDump appends every P4Runtime request sent to a device to a text file, in protobuf text format
type ProtoDump struct {
	mutex sync.Mutex
	file  *os.File
}

// NewProtoDump truncates (or creates) the dump file at path
func NewProtoDump(path string) (*ProtoDump, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &ProtoDump{file: f}, nil
}

func (d *ProtoDump) record(method string, msg interface{}) {
	m, ok := msg.(proto.Message)
	if !ok {
		return
	}
	text, err := prototext.MarshalOptions{Multiline: true}.Marshal(m)
	if err != nil {
		logger.Warnw(context.Background(), "proto-dump-marshal-failed", log.Fields{"method": method, "error": err})
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.file == nil {
		return
	}
	fmt.Fprintf(d.file, "[%s] %s\n---\n%s---\n", time.Now().Format("2006-01-02 15:04:05.000"), method, text)
}

// UnaryClientInterceptor records unary requests before they are sent
func (d *ProtoDump) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		d.record(method, req)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor records every message sent on client streams (Read and StreamChannel)
func (d *ProtoDump) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			return nil, err
		}
		return &dumpingStream{ClientStream: cs, dump: d, method: method}, nil
	}
}

// Close flushes and closes the dump file
func (d *ProtoDump) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

type dumpingStream struct {
	grpc.ClientStream
	dump   *ProtoDump
	method string
}

func (s *dumpingStream) SendMsg(m interface{}) error {
	s.dump.record(s.method, m)
	return s.ClientStream.SendMsg(m)
}
