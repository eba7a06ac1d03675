package streamcache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/xxh3"

	"crawlstream/internal/caster"
)

// Codec encodes items of type T into self-contained payloads. Decode must
// not retain src; the frame reader reuses it.
type Codec[T any] interface {
	Append(dst []byte, v T) ([]byte, error)
	Decode(src []byte) (T, error)
}

// maxFrame bounds a single payload so a damaged length prefix cannot trigger
// a huge allocation.
const maxFrame = 64 << 20

// Frames on disk are: uvarint(len(payload)) | payload | xxh3-64(payload) LE.

type frameWriter struct {
	w   *bufio.Writer
	hdr [binary.MaxVarintLen64]byte
	sum [8]byte
	n   int64 // bytes written
}

func (fw *frameWriter) write(payload []byte) error {
	if len(payload) > maxFrame {
		return fmt.Errorf("streamcache: item of %d bytes exceeds frame limit", len(payload))
	}
	k := binary.PutUvarint(fw.hdr[:], uint64(len(payload)))
	binary.LittleEndian.PutUint64(fw.sum[:], xxh3.Hash(payload))
	if _, err := fw.w.Write(fw.hdr[:k]); err != nil {
		return err
	}
	if _, err := fw.w.Write(payload); err != nil {
		return err
	}
	if _, err := fw.w.Write(fw.sum[:]); err != nil {
		return err
	}
	fw.n += int64(k + len(payload) + len(fw.sum))
	return nil
}

type frameReader struct {
	r   *bufio.Reader
	buf []byte
	sum [8]byte
}

// next returns the next payload, valid until the following call, or io.EOF
// at a clean frame boundary.
func (fr *frameReader) next() ([]byte, error) {
	n, err := binary.ReadUvarint(fr.r)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, corrupt(err)
	}
	if n > maxFrame {
		return nil, corrupt(fmt.Errorf("frame length %d", n))
	}
	if cap(fr.buf) < int(n) {
		fr.buf = make([]byte, n)
	}
	fr.buf = fr.buf[:n]
	if _, err := io.ReadFull(fr.r, fr.buf); err != nil {
		return nil, corrupt(err)
	}
	if _, err := io.ReadFull(fr.r, fr.sum[:]); err != nil {
		return nil, corrupt(err)
	}
	if binary.LittleEndian.Uint64(fr.sum[:]) != xxh3.Hash(fr.buf) {
		return nil, corrupt(errors.New("checksum mismatch"))
	}
	return fr.buf, nil
}

func corrupt(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", ErrCorrupt, err)
}

// Payloads are CBOR arrays. Floats always go out as float64 with NaN
// payloads kept, and text is decoded without UTF-8 validation since crawl
// dumps are not always clean.
var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{
		ShortestFloat: cbor.ShortestFloatNone,
		NaNConvert:    cbor.NaNConvertNone,
		InfConvert:    cbor.InfConvertNone,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		UTF8: cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// CBOR initial bytes that identify a cell.
const (
	cborFalse   = 0xf4
	cborTrue    = 0xf5
	cborNull    = 0xf6
	cborFloat16 = 0xf9
	cborFloat64 = 0xfb

	tagRFC3339 = 0
)

// RowCodec encodes caster.Row values as CBOR arrays whose items keep their
// kind: integers, float64, text, booleans, null and tagged times never
// collapse into each other. When Kinds is set, every row must match it cell
// by cell (null is allowed anywhere); a mismatch fails both encoding and
// decoding.
type RowCodec struct {
	Kinds []caster.Kind
}

func (c RowCodec) Append(dst []byte, row caster.Row) ([]byte, error) {
	if err := c.checkRow(row); err != nil {
		return dst, err
	}
	cells := make([]any, len(row))
	for i, v := range row {
		switch v.Kind() {
		case caster.KindTime:
			// An explicit tag keeps 0001-01-01 from being written as null.
			cells[i] = cbor.Tag{Number: tagRFC3339, Content: v.Time().Format(time.RFC3339Nano)}
		case caster.KindNull, caster.KindInt, caster.KindFloat, caster.KindString, caster.KindBool:
			cells[i] = v.Any()
		default:
			return dst, fmt.Errorf("streamcache: cannot encode %s cell", v.Kind())
		}
	}
	b, err := encMode.Marshal(cells)
	if err != nil {
		return dst, fmt.Errorf("streamcache: encode row: %w", err)
	}
	return append(dst, b...), nil
}

func (c RowCodec) Decode(src []byte) (caster.Row, error) {
	var cells []cbor.RawMessage
	if err := decMode.Unmarshal(src, &cells); err != nil {
		return nil, corrupt(err)
	}
	row := make(caster.Row, len(cells))
	for i, raw := range cells {
		v, err := decodeCell(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: cell %d: %w", ErrCorrupt, i, err)
		}
		row[i] = v
	}
	if err := c.checkRow(row); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return row, nil
}

func decodeCell(raw cbor.RawMessage) (caster.Value, error) {
	if len(raw) == 0 {
		return caster.Value{}, errors.New("empty item")
	}
	switch b := raw[0]; {
	case b == cborNull:
		return caster.Null(), nil
	case b == cborFalse:
		return caster.Bool(false), nil
	case b == cborTrue:
		return caster.Bool(true), nil
	case b >= cborFloat16 && b <= cborFloat64:
		var f float64
		err := decMode.Unmarshal(raw, &f)
		return caster.Float(f), err
	}
	switch major := raw[0] >> 5; major {
	case 0, 1:
		var n int64
		err := decMode.Unmarshal(raw, &n)
		return caster.Int(n), err
	case 3:
		var s string
		err := decMode.Unmarshal(raw, &s)
		return caster.String(s), err
	case 6:
		var t time.Time
		err := decMode.Unmarshal(raw, &t)
		return caster.Time(t), err
	default:
		return caster.Value{}, fmt.Errorf("unexpected major type %d", major)
	}
}

func (c RowCodec) checkRow(row caster.Row) error {
	if c.Kinds == nil {
		return nil
	}
	if len(row) != len(c.Kinds) {
		return fmt.Errorf("streamcache: row has %d cells, schema has %d", len(row), len(c.Kinds))
	}
	for i, v := range row {
		if k := v.Kind(); k != caster.KindNull && k != c.Kinds[i] {
			return fmt.Errorf("streamcache: cell %d is %s, schema says %s", i, k, c.Kinds[i])
		}
	}
	return nil
}

// StringsCodec encodes raw split rows as CBOR arrays of text.
type StringsCodec struct{}

func (StringsCodec) Append(dst []byte, row []string) ([]byte, error) {
	if row == nil {
		row = []string{}
	}
	b, err := encMode.Marshal(row)
	if err != nil {
		return dst, fmt.Errorf("streamcache: encode row: %w", err)
	}
	return append(dst, b...), nil
}

func (StringsCodec) Decode(src []byte) ([]string, error) {
	var row []string
	if err := decMode.Unmarshal(src, &row); err != nil {
		return nil, corrupt(err)
	}
	if row == nil {
		row = []string{}
	}
	return row, nil
}
