package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary tags for the self-describing value encoding used by the chunk
// persistence format (spec §6.2: "type-tag byte + payload"). These are a
// wire contract; do not renumber without bumping the chunk format version.
const (
	tagNull   byte = 0
	tagBool   byte = 1
	tagInt    byte = 2
	tagUint   byte = 3
	tagFloat  byte = 4
	tagString byte = 5
	tagSeq    byte = 6
	tagMap    byte = 7
)

// Encode writes the self-describing binary form of v to w.
func Encode(w io.Writer, v Value) error {
	switch v.kind {
	case KindNull:
		_, err := w.Write([]byte{tagNull})
		return err
	case KindBool:
		b := byte(0)
		if v.b {
			b = 1
		}
		_, err := w.Write([]byte{tagBool, b})
		return err
	case KindInt:
		buf := make([]byte, 9)
		buf[0] = tagInt
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.i))
		_, err := w.Write(buf)
		return err
	case KindUint:
		buf := make([]byte, 9)
		buf[0] = tagUint
		binary.LittleEndian.PutUint64(buf[1:], v.u)
		_, err := w.Write(buf)
		return err
	case KindFloat:
		buf := make([]byte, 9)
		buf[0] = tagFloat
		binary.LittleEndian.PutUint64(buf[1:], float64bits(v.f))
		_, err := w.Write(buf)
		return err
	case KindString:
		return encodeString(w, tagString, v.s)
	case KindSeq:
		header := make([]byte, 5)
		header[0] = tagSeq
		binary.LittleEndian.PutUint32(header[1:], uint32(len(v.seq)))
		if _, err := w.Write(header); err != nil {
			return err
		}
		for _, item := range v.seq {
			if err := Encode(w, item); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		header := make([]byte, 5)
		header[0] = tagMap
		binary.LittleEndian.PutUint32(header[1:], uint32(len(v.keys)))
		if _, err := w.Write(header); err != nil {
			return err
		}
		for _, k := range v.keys {
			if err := encodeString(w, 0, k); err != nil {
				return err
			}
			if err := Encode(w, v.m[k]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("value: encode: unknown kind %d", v.kind)
	}
}

// encodeString writes an optional leading tag byte (skip with tag==0 used
// internally for map keys, which don't need a type tag) followed by a
// u32 length prefix and the UTF-8 bytes.
func encodeString(w io.Writer, tag byte, s string) error {
	if tag != 0 {
		if _, err := w.Write([]byte{tag}); err != nil {
			return err
		}
	}
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(s)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// Decode reads one self-describing value from r.
func Decode(r io.Reader) (Value, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return Value{}, err
	}
	switch tagBuf[0] {
	case tagNull:
		return Null(), nil
	case tagBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return Bool(b[0] != 0), nil
	case tagInt:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return Int(int64(binary.LittleEndian.Uint64(b[:]))), nil
	case tagUint:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return Uint(binary.LittleEndian.Uint64(b[:])), nil
	case tagFloat:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return Float(float64frombits(binary.LittleEndian.Uint64(b[:]))), nil
	case tagString:
		s, err := decodeRawString(r)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case tagSeq:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		seq := make([]Value, n)
		for i := uint32(0); i < n; i++ {
			item, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			seq[i] = item
		}
		return Seq(seq), nil
	case tagMap:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		keys := make([]string, 0, n)
		m := make(map[string]Value, n)
		for i := uint32(0); i < n; i++ {
			k, err := decodeRawString(r)
			if err != nil {
				return Value{}, err
			}
			val, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			keys = append(keys, k)
			m[k] = val
		}
		return Map(keys, m), nil
	default:
		return Value{}, fmt.Errorf("value: decode: unknown tag %d", tagBuf[0])
	}
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func decodeRawString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// EncodeBytes is a convenience wrapper returning the encoded bytes directly.
func EncodeBytes(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBytes is a convenience wrapper decoding from a byte slice.
func DecodeBytes(b []byte) (Value, error) {
	return Decode(bytes.NewReader(b))
}
