package goamqp

import "github.com/ewaters/goamqp/protocol"

// outboundBatch is a unit of outbound admission: one leading frame (method,
// usually) plus any directly-following non-synchronous frames (content
// header/body for a publish, for instance). Sync-Gate admits or defers a
// whole batch together so a publish's header/body frames never get split
// from the Basic.Publish method that precedes them.
type outboundBatch struct {
	frames   []protocol.Frame
	callback func(resp protocol.Method)
}

// gateEntry tracks one in-flight synchronous request on a channel.
type gateEntry struct {
	request      protocol.MethodKind
	responses    []protocol.MethodKind
	callback     func(resp protocol.Method)
	processAfter []outboundBatch
}

func (g *gateEntry) matches(k protocol.MethodKind) bool {
	for _, r := range g.responses {
		if r == k {
			return true
		}
	}
	return false
}

// syncGate serializes every synchronous method exchange on one channel:
// at most one request may be outstanding at a time, regardless of whether
// a later request's response set overlaps the pending one's. This mirrors
// a documented RabbitMQ workaround and is not configurable.
type syncGate struct {
	active *gateEntry
}

// admit decides whether batch may go straight to the wire or must wait.
// writeFn is called with the frames to write when (and only when) the
// batch is admitted, whether immediately or later via release.
func (g *syncGate) admit(batch outboundBatch, writeFn func([]protocol.Frame)) {
	lead, ok := firstMethod(batch.frames)
	if !ok {
		writeFn(batch.frames)
		return
	}
	desc := protocol.DescriptorFor(lead.Kind())
	if !desc.Synchronous {
		writeFn(batch.frames)
		return
	}
	if g.active != nil {
		g.active.processAfter = append(g.active.processAfter, batch)
		return
	}
	g.active = &gateEntry{
		request:   lead.Kind(),
		responses: desc.Responses,
		callback:  batch.callback,
	}
	writeFn(batch.frames)
}

// match looks for an active entry whose declared responses include k. On
// a match it clears the entry, invokes its callback, and releases every
// deferred batch (FIFO) via writeFn. Returns false if no entry matched,
// meaning the method was not a tracked synchronous response.
func (g *syncGate) match(k protocol.MethodKind, resp protocol.Method, writeFn func([]protocol.Frame)) bool {
	if g.active == nil || !g.active.matches(k) {
		return false
	}
	done := g.active
	g.active = nil
	if done.callback != nil {
		done.callback(resp)
	}
	for _, deferred := range done.processAfter {
		g.admit(deferred, writeFn)
	}
	return true
}

// clear drops the active entry and discards all deferred batches, per the
// documented disconnect behavior: callers are expected to re-submit work
// from a Reconnected callback rather than have it silently resent.
func (g *syncGate) clear() {
	g.active = nil
}

func firstMethod(frames []protocol.Frame) (protocol.Method, bool) {
	if len(frames) == 0 {
		return nil, false
	}
	mf, ok := frames[0].(*protocol.MethodFrame)
	if !ok {
		return nil, false
	}
	return mf.Method, true
}
