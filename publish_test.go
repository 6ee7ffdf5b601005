package goamqp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ewaters/goamqp/protocol"
)

func framesByType(frames []protocol.Frame) (methods int, headers int, bodies int) {
	for _, f := range frames {
		switch f.(type) {
		case *protocol.MethodFrame:
			methods++
		case *protocol.HeaderFrame:
			headers++
		case *protocol.BodyFrame:
			bodies++
		}
	}
	return
}

func TestComposeBasicPublishChunksToFrameMax(t *testing.T) {
	payload := make([]byte, 25)
	for i := range payload {
		payload[i] = byte(i)
	}

	frames := composeBasicPublish(10, "ex", "rk", payload, protocol.Properties{}, false, false)
	methods, headers, bodies := framesByType(frames)
	require.Equal(t, 1, methods)
	require.Equal(t, 1, headers)
	require.Equal(t, 3, bodies) // 10 + 10 + 5

	var reassembled []byte
	for _, f := range frames {
		if b, ok := f.(*protocol.BodyFrame); ok {
			reassembled = append(reassembled, b.Body...)
			require.LessOrEqual(t, len(b.Body), 10)
		}
	}
	require.Equal(t, payload, reassembled)
}

func TestComposeBasicPublishZeroFrameMaxUsesSingleBodyFrame(t *testing.T) {
	payload := []byte("pre-tune payload, frame_max unknown")
	frames := composeBasicPublish(0, "ex", "rk", payload, protocol.Properties{}, false, false)
	_, _, bodies := framesByType(frames)
	require.Equal(t, 1, bodies)

	body, ok := frames[2].(*protocol.BodyFrame)
	require.True(t, ok)
	require.Equal(t, payload, body.Body)
}

func TestComposeBasicPublishEmptyPayloadStillEmitsOneBodyFrame(t *testing.T) {
	frames := composeBasicPublish(1024, "ex", "rk", nil, protocol.Properties{}, false, false)
	_, _, bodies := framesByType(frames)
	require.Equal(t, 1, bodies)

	body, ok := frames[2].(*protocol.BodyFrame)
	require.True(t, ok)
	require.Empty(t, body.Body)

	hdr, ok := frames[1].(*protocol.HeaderFrame)
	require.True(t, ok)
	require.Equal(t, uint64(0), hdr.BodySize)
}
