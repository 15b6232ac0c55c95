// Package artifact serializes and deserializes a compiled program.Program
// (§4.5): a stable, forward-compatible binary header plus an extensible
// section that may fail to decode across versions without invalidating
// the header, and a JSON mirror for diagnostics.
package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/regovm/engine/value"
)

// valueTag discriminates the encoded Value variants. Growth is
// add-only to keep old readers able to at least recognize newer tags
// they don't understand as "stop, recompile" rather than misparse.
type valueTag uint8

const (
	tagNull valueTag = iota
	tagBool
	tagNumberI64
	tagNumberF64
	tagString
	tagArray
	tagSet
	tagObject
	tagUndefined
	tagNumberU64
	tagNumberString
)

// encodeValue appends v's tagged-enum encoding to buf (§4.5: "Value
// encoding uses a tagged enum with variants Null, Bool, NumberI64,
// NumberU64, NumberF64, NumberString, String, Array, Set, Object,
// Undefined").
func encodeValue(buf *bytes.Buffer, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		buf.WriteByte(byte(tagNull))
	case value.KindUndefined:
		buf.WriteByte(byte(tagUndefined))
	case value.KindBool:
		buf.WriteByte(byte(tagBool))
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case value.KindNumber:
		switch {
		case v.IsNumberString():
			buf.WriteByte(byte(tagNumberString))
			writeBytes(buf, []byte(v.DecimalString()))
		case v.IsUint64():
			buf.WriteByte(byte(tagNumberU64))
			writeU64(buf, v.Uint64())
		case v.IsInt():
			buf.WriteByte(byte(tagNumberI64))
			writeU64(buf, uint64(v.Int64()))
		default:
			buf.WriteByte(byte(tagNumberF64))
			writeU64(buf, math.Float64bits(v.Float64()))
		}
	case value.KindString:
		buf.WriteByte(byte(tagString))
		writeBytes(buf, []byte(v.Str()))
	case value.KindArray:
		buf.WriteByte(byte(tagArray))
		elems := v.Array()
		writeU32(buf, uint32(len(elems)))
		for _, e := range elems {
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
	case value.KindSet:
		buf.WriteByte(byte(tagSet))
		elems := v.SetElements()
		writeU32(buf, uint32(len(elems)))
		for _, e := range elems {
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
	case value.KindObject:
		buf.WriteByte(byte(tagObject))
		entries := v.ObjectEntries()
		writeU32(buf, uint32(len(entries)))
		for _, kv := range entries {
			if err := encodeValue(buf, kv[0]); err != nil {
				return err
			}
			if err := encodeValue(buf, kv[1]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("artifact: unknown value kind %v", v.Kind())
	}
	return nil
}

func decodeValue(r *bytes.Reader) (value.Value, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return value.Value{}, fmt.Errorf("artifact: reading value tag: %w", err)
	}
	switch valueTag(tagByte) {
	case tagNull:
		return value.Null, nil
	case tagUndefined:
		return value.Undefined, nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b != 0), nil
	case tagNumberI64:
		u, err := readU64(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.Int(int64(u)), nil
	case tagNumberF64:
		u, err := readU64(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.Float(math.Float64frombits(u)), nil
	case tagNumberU64:
		u, err := readU64(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.Uint64(u), nil
	case tagNumberString:
		b, err := readBytes(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.NumberString(string(b)), nil
	case tagString:
		b, err := readBytes(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.String(string(b)), nil
	case tagArray:
		n, err := readU32(r)
		if err != nil {
			return value.Value{}, err
		}
		elems := make([]value.Value, n)
		for i := range elems {
			elems[i], err = decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
		}
		return value.Array(elems...), nil
	case tagSet:
		n, err := readU32(r)
		if err != nil {
			return value.Value{}, err
		}
		out := value.EmptySet()
		for i := uint32(0); i < n; i++ {
			e, err := decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
			out = out.SetAdd(e)
		}
		return out, nil
	case tagObject:
		n, err := readU32(r)
		if err != nil {
			return value.Value{}, err
		}
		out := value.EmptyObject()
		for i := uint32(0); i < n; i++ {
			k, err := decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
			v, err := decodeValue(r)
			if err != nil {
				return value.Value{}, err
			}
			out = out.ObjectSet(k, v)
		}
		return out, nil
	default:
		return value.Value{}, fmt.Errorf("artifact: unknown value tag %d", tagByte)
	}
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := r.Read(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, fmt.Errorf("artifact: short read (got %d, wanted %d)", n, len(b))
	}
	return n, nil
}
