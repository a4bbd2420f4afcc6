//go:build unit
// +build unit

/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package adapter

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/spanner/adapter/apiv1/adapterpb"
	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/datastax/go-cassandra-native-protocol/message"
	"github.com/datastax/go-cassandra-native-protocol/primitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

// emptyAdaptMessageClient is a stream that yields io.EOF without ever
// returning a chunk, modeling an Adapter call that closes having sent
// nothing at all.
type emptyAdaptMessageClient struct{}

func (emptyAdaptMessageClient) CloseSend() error             { return nil }
func (emptyAdaptMessageClient) Context() context.Context     { return context.Background() }
func (emptyAdaptMessageClient) Header() (metadata.MD, error) { return nil, nil }
func (emptyAdaptMessageClient) RecvMsg(m any) error          { return io.EOF }
func (emptyAdaptMessageClient) SendMsg(m any) error          { return nil }
func (emptyAdaptMessageClient) Trailer() metadata.MD         { return nil }
func (emptyAdaptMessageClient) Recv() (*adapterpb.AdaptMessageResponse, error) {
	return nil, io.EOF
}

func newTestDriverConnection(t *testing.T) (*driverConnection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})
	gs, err := NewDefaultGlobalState(16)
	require.NoError(t, err)
	return &driverConnection{
		connectionID: 1,
		driverConn:   serverSide,
		globalState:  gs,
		codec:        frame.NewCodec(),
		rawCodec:     frame.NewRawCodec(),
	}, clientSide
}

// TestWriteGrpcResponseToTcp_ZeroChunks verifies the stitching law's n=0
// case: no chunks at all synthesizes a single SERVER_ERROR frame carrying
// the literal "no response" message and the triggering request's stream id,
// rather than leaving the client waiting on a response that never arrives.
func TestWriteGrpcResponseToTcp_ZeroChunks(t *testing.T) {
	dc, clientSide := newTestDriverConnection(t)

	header := &frame.Header{
		Version:  primitive.ProtocolVersion4,
		StreamId: 42,
		OpCode:   primitive.OpCodeQuery,
	}

	done := make(chan error, 1)
	go func() {
		done <- dc.writeGrpcResponseToTcp(header, emptyAdaptMessageClient{})
	}()

	decoded, err := dc.codec.DecodeFrame(clientSide)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, int16(42), decoded.Header.StreamId)
	serverErr, ok := decoded.Body.Message.(*message.ServerError)
	require.True(t, ok, "expected a ServerError frame, got %T", decoded.Body.Message)
	assert.Equal(t, "No response received from the server.", serverErr.ErrorMessage)
}

// stitchAdaptMessageClient replays a fixed sequence of AdaptMessage response
// chunks, modeling a multi-chunk stream whose last chunk carries the frame
// header and whose preceding chunks carry the body, in order.
type stitchAdaptMessageClient struct {
	payloads [][]byte
	i        int
}

func (c *stitchAdaptMessageClient) CloseSend() error             { return nil }
func (c *stitchAdaptMessageClient) Context() context.Context     { return context.Background() }
func (c *stitchAdaptMessageClient) Header() (metadata.MD, error) { return nil, nil }
func (c *stitchAdaptMessageClient) RecvMsg(m any) error          { return nil }
func (c *stitchAdaptMessageClient) SendMsg(m any) error          { return nil }
func (c *stitchAdaptMessageClient) Trailer() metadata.MD         { return nil }
func (c *stitchAdaptMessageClient) Recv() (*adapterpb.AdaptMessageResponse, error) {
	if c.i >= len(c.payloads) {
		return nil, io.EOF
	}
	p := c.payloads[c.i]
	c.i++
	return &adapterpb.AdaptMessageResponse{Payload: p}, nil
}

// TestWriteGrpcResponseToTcp_MultiChunkStitch verifies the stitching law's
// n>1 case: the last received chunk is the frame header and is written
// first, followed by the remaining chunks in receive order.
func TestWriteGrpcResponseToTcp_MultiChunkStitch(t *testing.T) {
	dc, clientSide := newTestDriverConnection(t)

	cli := &stitchAdaptMessageClient{payloads: [][]byte{[]byte("B1"), []byte("B2"), []byte("HDR")}}

	done := make(chan error, 1)
	go func() {
		done <- dc.writeGrpcResponseToTcp(&frame.Header{}, cli)
	}()

	want := "HDRB1B2"
	got := make([]byte, len(want))
	_, err := io.ReadFull(clientSide, got)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, want, string(got))
}

// fakeConn is a minimal net.Conn whose Read side is driven by a caller
// supplied io.Reader (so a test can hand it a short byte sequence that ends
// in EOF without closing anything) and whose Write side accumulates into a
// buffer for later inspection.
type fakeConn struct {
	r   io.Reader
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *fakeConn) Read(b []byte) (int, error)  { return c.r.Read(b) }
func (c *fakeConn) Close() error                { return nil }
func (c *fakeConn) LocalAddr() net.Addr         { return nil }
func (c *fakeConn) RemoteAddr() net.Addr        { return nil }
func (c *fakeConn) SetDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(b)
}

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Bytes()
}

// TestHandleConnection_MalformedHeader verifies the universal malformed-frame
// invariant: a short/truncated header (here, 3 bytes followed by EOF, never a
// clean zero-byte close) yields exactly one SERVER_ERROR frame carrying the
// fixed "payload is not well formed" text and stream id 0, and the recv loop
// then exits without attempting to read a further frame.
func TestHandleConnection_MalformedHeader(t *testing.T) {
	conn := &fakeConn{r: bytes.NewReader([]byte{0x04, 0x00, 0x00})}
	gs, err := NewDefaultGlobalState(16)
	require.NoError(t, err)
	dc := &driverConnection{
		connectionID: 7,
		driverConn:   conn,
		globalState:  gs,
		codec:        frame.NewCodec(),
		rawCodec:     frame.NewRawCodec(),
	}

	dc.handleConnection(context.Background())

	decoded, err := dc.codec.DecodeFrame(bytes.NewReader(conn.written()))
	require.NoError(t, err)
	assert.Equal(t, int16(0), decoded.Header.StreamId)
	serverErr, ok := decoded.Body.Message.(*message.ServerError)
	require.True(t, ok, "expected a ServerError frame, got %T", decoded.Body.Message)
	assert.Equal(t, malformedPayloadMessage, serverErr.ErrorMessage)
}
