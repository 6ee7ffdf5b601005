package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMethodFrameRoundTrip(t *testing.T) {
	f := &MethodFrame{
		Channel: 1,
		Method: &QueueDeclareMethod{
			Queue:     "q",
			Exclusive: true,
			Arguments: Table{"x-max-length": int32(10)},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, f))

	frames, rest, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Len(t, frames, 1)

	got, ok := frames[0].(*MethodFrame)
	require.True(t, ok)
	require.Equal(t, uint16(1), got.ChannelID())
	decl, ok := got.Method.(*QueueDeclareMethod)
	require.True(t, ok)
	require.Equal(t, "q", decl.Queue)
	require.True(t, decl.Exclusive)
	require.Equal(t, int32(10), decl.Arguments["x-max-length"])
}

func TestDecodeAccumulatesLeftoverBytes(t *testing.T) {
	f := &MethodFrame{Channel: 0, Method: &ConnectionCloseOkMethod{}}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, f))

	whole := buf.Bytes()
	// Feed everything but the final byte: Decode must report no frames and
	// return the entire prefix unconsumed rather than erroring.
	frames, rest, err := Decode(whole[:len(whole)-1])
	require.NoError(t, err)
	require.Empty(t, frames)
	require.Equal(t, whole[:len(whole)-1], rest)

	// Completing the buffer now yields the frame.
	frames, rest, err = Decode(whole)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Len(t, frames, 1)
}

func TestDecodeMultipleFramesInOneChunk(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &HeartbeatFrame{}))
	require.NoError(t, Encode(&buf, &MethodFrame{Channel: 2, Method: &ChannelOpenOkMethod{}}))

	frames, rest, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Len(t, frames, 2)
	_, ok := frames[0].(*HeartbeatFrame)
	require.True(t, ok)
	mf, ok := frames[1].(*MethodFrame)
	require.True(t, ok)
	require.Equal(t, uint16(2), mf.ChannelID())
}

func TestDecodeRejectsBadFrameEnd(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &HeartbeatFrame{}))
	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] = 0x00

	_, _, err := Decode(corrupt)
	require.Error(t, err)
}

func TestHeaderFramePropertiesRoundTrip(t *testing.T) {
	h := &HeaderFrame{
		Channel:  3,
		ClassID:  60,
		BodySize: 5,
		Properties: Properties{
			ContentType:   "application/octet-stream",
			DeliveryMode:  1,
			CorrelationID: "abc-123",
			Headers:       Table{"x-retry": int32(2)},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h))

	frames, rest, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Len(t, frames, 1)

	got, ok := frames[0].(*HeaderFrame)
	require.True(t, ok)
	require.Equal(t, uint64(5), got.BodySize)
	require.Equal(t, "application/octet-stream", got.Properties.ContentType)
	require.Equal(t, uint8(1), got.Properties.DeliveryMode)
	require.Equal(t, "abc-123", got.Properties.CorrelationID)
	require.Equal(t, int32(2), got.Properties.Headers["x-retry"])
}

func TestBodyFrameRoundTrip(t *testing.T) {
	b := &BodyFrame{Channel: 3, Body: []byte("hello world")}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, b))

	frames, rest, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Empty(t, rest)
	got, ok := frames[0].(*BodyFrame)
	require.True(t, ok)
	require.Equal(t, "hello world", string(got.Body))
}

func TestDescriptorTableSynchronousMethods(t *testing.T) {
	d := DescriptorFor(ConnectionStartOk)
	require.True(t, d.Synchronous)
	require.True(t, IsSynchronousResponse(ConnectionStartOk, ConnectionTune))

	d = DescriptorFor(BasicPublish)
	require.False(t, d.Synchronous)
	require.Empty(t, d.Responses)
}
