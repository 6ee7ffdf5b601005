package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// headerSize is the length of the fixed prefix of every frame: type octet, channel
// short, payload size long. The frame-end octet follows the payload.
const headerSize = 7

// Encode writes a single frame to w in AMQP 0-9-1 wire form: a 7-byte header
// (type, channel, size), the encoded payload, and the FrameEnd octet.
//
// This is a length-prefixed encoding, not the trailing-marker-only framing
// some older clients used: the size field lets Decode know exactly how many
// bytes to read before it looks for FrameEnd, so a payload that happens to
// contain the byte 0xCE can never be mistaken for a frame boundary.
func Encode(w io.Writer, f Frame) error {
	var payload []byte
	var typ byte

	switch v := f.(type) {
	case *MethodFrame:
		typ = TypeMethod
		payload = encodeMethod(v.Method)
	case *HeaderFrame:
		typ = TypeHeader
		payload = encodeHeader(v)
	case *BodyFrame:
		typ = TypeBody
		payload = v.Body
	case *HeartbeatFrame:
		typ = TypeHeartbeat
		payload = nil
	default:
		return fmt.Errorf("protocol: unknown frame type %T", f)
	}

	var hdr [headerSize]byte
	hdr[0] = typ
	binary.BigEndian.PutUint16(hdr[1:3], f.ChannelID())
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{FrameEnd})
	return err
}

// Decode parses as many complete frames as are present at the front of buf.
// It returns the decoded frames, the unconsumed remainder of buf (to be
// prepended to the next read), and an error if a complete frame was
// malformed. A short buffer is not an error: Decode returns the frames
// found so far and the leftover bytes unchanged, ready for more data to be
// appended by the caller.
func Decode(buf []byte) (frames []Frame, rest []byte, err error) {
	for {
		if len(buf) < headerSize {
			return frames, buf, nil
		}
		typ := buf[0]
		channel := binary.BigEndian.Uint16(buf[1:3])
		size := binary.BigEndian.Uint32(buf[3:7])

		total := headerSize + int(size) + 1
		if len(buf) < total {
			return frames, buf, nil
		}
		payload := buf[headerSize : headerSize+int(size)]
		if buf[total-1] != FrameEnd {
			return frames, buf, fmt.Errorf("protocol: frame missing end marker on channel %d", channel)
		}

		f, derr := decodeFrame(typ, channel, payload)
		if derr != nil {
			return frames, buf, derr
		}
		frames = append(frames, f)
		buf = buf[total:]
	}
}

func decodeFrame(typ byte, channel uint16, payload []byte) (Frame, error) {
	switch typ {
	case TypeMethod:
		m, err := decodeMethod(payload)
		if err != nil {
			return nil, err
		}
		return &MethodFrame{Channel: channel, Method: m}, nil
	case TypeHeader:
		return decodeHeaderFrame(channel, payload)
	case TypeBody:
		body := make([]byte, len(payload))
		copy(body, payload)
		return &BodyFrame{Channel: channel, Body: body}, nil
	case TypeHeartbeat:
		return &HeartbeatFrame{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown frame type octet %d", typ)
	}
}

func encodeHeader(h *HeaderFrame) []byte {
	var w writer
	w.short(h.ClassID)
	w.short(h.Weight)
	w.longlong(h.BodySize)
	encodeProperties(&w, h.Properties)
	return w.buf.Bytes()
}

func decodeHeaderFrame(channel uint16, payload []byte) (*HeaderFrame, error) {
	r := newReader(payload)
	class, err := r.short()
	if err != nil {
		return nil, err
	}
	weight, err := r.short()
	if err != nil {
		return nil, err
	}
	size, err := r.longlong()
	if err != nil {
		return nil, err
	}
	props, err := decodeProperties(r)
	if err != nil {
		return nil, err
	}
	return &HeaderFrame{Channel: channel, ClassID: class, Weight: weight, BodySize: size, Properties: props}, nil
}

// property flag bits, in the order they appear in the AMQP 0-9-1 basic
// content-header class.
const (
	flagContentType = 1 << 15
	flagContentEnc  = 1 << 14
	flagHeaders     = 1 << 13
	flagDeliveryMod = 1 << 12
	flagPriority    = 1 << 11
	flagCorrelation = 1 << 10
	flagReplyTo     = 1 << 9
	flagExpiration  = 1 << 8
	flagMessageID   = 1 << 7
	flagType        = 1 << 5
	flagAppID       = 1 << 3
)

func encodeProperties(w *writer, p Properties) {
	var flags uint16
	if p.ContentType != "" {
		flags |= flagContentType
	}
	if p.ContentEncoding != "" {
		flags |= flagContentEnc
	}
	if len(p.Headers) > 0 {
		flags |= flagHeaders
	}
	if p.DeliveryMode != 0 {
		flags |= flagDeliveryMod
	}
	if p.Priority != 0 {
		flags |= flagPriority
	}
	if p.CorrelationID != "" {
		flags |= flagCorrelation
	}
	if p.ReplyTo != "" {
		flags |= flagReplyTo
	}
	if p.Expiration != "" {
		flags |= flagExpiration
	}
	if p.MessageID != "" {
		flags |= flagMessageID
	}
	if p.Type != "" {
		flags |= flagType
	}
	if p.AppID != "" {
		flags |= flagAppID
	}

	w.short(flags)
	if flags&flagContentType != 0 {
		w.shortstr(p.ContentType)
	}
	if flags&flagContentEnc != 0 {
		w.shortstr(p.ContentEncoding)
	}
	if flags&flagHeaders != 0 {
		w.table(p.Headers)
	}
	if flags&flagDeliveryMod != 0 {
		w.octet(p.DeliveryMode)
	}
	if flags&flagPriority != 0 {
		w.octet(p.Priority)
	}
	if flags&flagCorrelation != 0 {
		w.shortstr(p.CorrelationID)
	}
	if flags&flagReplyTo != 0 {
		w.shortstr(p.ReplyTo)
	}
	if flags&flagExpiration != 0 {
		w.shortstr(p.Expiration)
	}
	if flags&flagMessageID != 0 {
		w.shortstr(p.MessageID)
	}
	if flags&flagType != 0 {
		w.shortstr(p.Type)
	}
	if flags&flagAppID != 0 {
		w.shortstr(p.AppID)
	}
}

func decodeProperties(r *reader) (Properties, error) {
	var p Properties
	flags, err := r.short()
	if err != nil {
		return p, err
	}
	var perr error
	read := func(f func() error) {
		if perr == nil {
			perr = f()
		}
	}
	if flags&flagContentType != 0 {
		read(func() (e error) { p.ContentType, e = r.shortstr(); return })
	}
	if flags&flagContentEnc != 0 {
		read(func() (e error) { p.ContentEncoding, e = r.shortstr(); return })
	}
	if flags&flagHeaders != 0 {
		read(func() (e error) { p.Headers, e = r.table(); return })
	}
	if flags&flagDeliveryMod != 0 {
		read(func() (e error) { p.DeliveryMode, e = r.octet(); return })
	}
	if flags&flagPriority != 0 {
		read(func() (e error) { p.Priority, e = r.octet(); return })
	}
	if flags&flagCorrelation != 0 {
		read(func() (e error) { p.CorrelationID, e = r.shortstr(); return })
	}
	if flags&flagReplyTo != 0 {
		read(func() (e error) { p.ReplyTo, e = r.shortstr(); return })
	}
	if flags&flagExpiration != 0 {
		read(func() (e error) { p.Expiration, e = r.shortstr(); return })
	}
	if flags&flagMessageID != 0 {
		read(func() (e error) { p.MessageID, e = r.shortstr(); return })
	}
	if flags&flagType != 0 {
		read(func() (e error) { p.Type, e = r.shortstr(); return })
	}
	if flags&flagAppID != 0 {
		read(func() (e error) { p.AppID, e = r.shortstr(); return })
	}
	return p, perr
}
