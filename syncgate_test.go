package goamqp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ewaters/goamqp/protocol"
)

func openBatch() outboundBatch {
	return outboundBatch{frames: []protocol.Frame{&protocol.MethodFrame{Method: &protocol.ChannelOpenMethod{}}}}
}

func declareBatch() outboundBatch {
	return outboundBatch{frames: []protocol.Frame{&protocol.MethodFrame{Method: &protocol.QueueDeclareMethod{Queue: "q"}}}}
}

func TestSyncGateDefersWhileRequestInFlight(t *testing.T) {
	var gate syncGate
	var written []protocol.Frame

	gate.admit(openBatch(), func(f []protocol.Frame) { written = append(written, f...) })
	require.Len(t, written, 1, "first request goes straight to the wire")

	gate.admit(declareBatch(), func(f []protocol.Frame) { written = append(written, f...) })
	require.Len(t, written, 1, "second request is deferred behind the first")
	require.NotNil(t, gate.active)
	require.Len(t, gate.active.processAfter, 1)
}

func TestSyncGateMatchReleasesNextInFIFOOrder(t *testing.T) {
	var gate syncGate
	var written []protocol.Frame
	writeFn := func(f []protocol.Frame) { written = append(written, f...) }

	gate.admit(openBatch(), writeFn)

	var secondCallbackRan bool
	gate.admit(outboundBatch{
		frames:   declareBatch().frames,
		callback: func(protocol.Method) { secondCallbackRan = true },
	}, writeFn)
	require.Len(t, written, 1)

	matched := gate.match(protocol.ChannelOpenOk, &protocol.ChannelOpenOkMethod{}, writeFn)
	require.True(t, matched)
	require.Len(t, written, 2, "the deferred QueueDeclare should now be on the wire")
	require.NotNil(t, gate.active)
	require.Equal(t, protocol.QueueDeclare, gate.active.request)

	matched = gate.match(protocol.QueueDeclareOk, &protocol.QueueDeclareOkMethod{Queue: "q"}, writeFn)
	require.True(t, matched)
	require.True(t, secondCallbackRan)
	require.Nil(t, gate.active)
}

func TestSyncGateMatchReturnsFalseForUnrelatedResponse(t *testing.T) {
	var gate syncGate
	gate.admit(openBatch(), func([]protocol.Frame) {})

	matched := gate.match(protocol.QueueDeclareOk, &protocol.QueueDeclareOkMethod{}, func([]protocol.Frame) {})
	require.False(t, matched)
	require.NotNil(t, gate.active, "a mismatched response must not clear the active entry")
}

func TestSyncGateClearDropsActiveAndDeferred(t *testing.T) {
	var gate syncGate
	gate.admit(openBatch(), func([]protocol.Frame) {})
	gate.admit(declareBatch(), func([]protocol.Frame) {})
	require.NotNil(t, gate.active)
	require.Len(t, gate.active.processAfter, 1)

	gate.clear()
	require.Nil(t, gate.active)
}

func TestSyncGateAdmitsNonSynchronousImmediately(t *testing.T) {
	var gate syncGate
	gate.admit(openBatch(), func([]protocol.Frame) {})

	var written []protocol.Frame
	publishBatch := outboundBatch{frames: []protocol.Frame{&protocol.MethodFrame{Method: &protocol.BasicPublishMethod{Exchange: "ex"}}}}
	gate.admit(publishBatch, func(f []protocol.Frame) { written = append(written, f...) })
	require.Len(t, written, 1, "non-synchronous methods bypass the gate even while a request is active")
}
