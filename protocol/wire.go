package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// reader decodes the primitive AMQP wire types from a byte buffer. It never
// reads past what callers ask for; running out of bytes surfaces io.EOF
// (nothing left) or io.ErrUnexpectedEOF (a partial value).
type reader struct {
	buf *bytes.Reader
}

func newReader(b []byte) *reader { return &reader{buf: bytes.NewReader(b)} }

func (r *reader) octet() (byte, error) {
	return r.buf.ReadByte()
}

func (r *reader) short() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (r *reader) long() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *reader) longlong() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *reader) shortstr() (string, error) {
	n, err := r.octet()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.buf, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) longstr() ([]byte, error) {
	n, err := r.long()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

// bits unpacks up to 8 boolean flags from a single octet, matching the AMQP
// rule that consecutive bit fields in a method are packed together.
func (r *reader) bits(n int) ([]bool, error) {
	o, err := r.octet()
	if err != nil {
		return nil, err
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = o&(1<<uint(i)) != 0
	}
	return out, nil
}

func (r *reader) table() (Table, error) {
	raw, err := r.longstr()
	if err != nil {
		return nil, err
	}
	return decodeTable(newReader(raw))
}

func decodeTable(r *reader) (Table, error) {
	t := Table{}
	for r.buf.Len() > 0 {
		key, err := r.shortstr()
		if err != nil {
			return nil, err
		}
		v, err := r.fieldValue()
		if err != nil {
			return nil, err
		}
		t[key] = v
	}
	return t, nil
}

func (r *reader) fieldValue() (interface{}, error) {
	tag, err := r.octet()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagLongString:
		b, err := r.longstr()
		return string(b), err
	case tagBoolean:
		o, err := r.octet()
		return o != 0, err
	case tagInt32:
		v, err := r.long()
		return int32(v), err
	case tagInt64:
		v, err := r.longlong()
		return int64(v), err
	case tagTable:
		return r.table()
	case tagVoid:
		return nil, nil
	default:
		return nil, fmt.Errorf("protocol: unsupported field-table tag %q", tag)
	}
}

// writer encodes the primitive AMQP wire types into a growing byte buffer.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) octet(v byte) { w.buf.WriteByte(v) }

func (w *writer) short(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) long(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) longlong(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) shortstr(v string) {
	if len(v) > 255 {
		v = v[:255]
	}
	w.octet(byte(len(v)))
	w.buf.WriteString(v)
}

func (w *writer) longstr(v []byte) {
	w.long(uint32(len(v)))
	w.buf.Write(v)
}

func (w *writer) bits(flags ...bool) {
	var o byte
	for i, f := range flags {
		if f {
			o |= 1 << uint(i)
		}
	}
	w.octet(o)
}

func (w *writer) table(t Table) {
	var body writer
	body.encodeTableBody(t)
	w.longstr(body.buf.Bytes())
}

func (w *writer) encodeTableBody(t Table) {
	for k, v := range t {
		w.shortstr(k)
		w.fieldValue(v)
	}
}

func (w *writer) fieldValue(v interface{}) {
	switch val := v.(type) {
	case string:
		w.octet(tagLongString)
		w.longstr([]byte(val))
	case bool:
		w.octet(tagBoolean)
		if val {
			w.octet(1)
		} else {
			w.octet(0)
		}
	case int32:
		w.octet(tagInt32)
		w.long(uint32(val))
	case int:
		w.octet(tagInt32)
		w.long(uint32(val))
	case int64:
		w.octet(tagInt64)
		w.longlong(uint64(val))
	case Table:
		w.octet(tagTable)
		w.table(val)
	case nil:
		w.octet(tagVoid)
	default:
		// Unknown Go type: best-effort stringify rather than drop the
		// argument silently.
		w.octet(tagLongString)
		w.longstr([]byte(fmt.Sprintf("%v", val)))
	}
}
