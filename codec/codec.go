// Package codec holds the persisted-state encoding shared by box collections
// and flux registers: deterministic CBOR records, optionally compressed.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same collection always
// produces identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// frame header: magic, compression tag, uncompressed length, payload length
const (
	magic      = "AMRC"
	headerSize = 4 + 1 + 8 + 8
)

// Write encodes v, compresses it with tag and writes one framed record to w.
func Write(w io.Writer, v any, tag CompressionTag) (n int64, err error) {
	var (
		raw, payload []byte
		hdr          [headerSize]byte
	)
	if raw, err = Marshal(v); err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	if payload, tag, err = CompressChunk(raw, tag); err != nil {
		return 0, err
	}
	copy(hdr[:4], magic)
	hdr[4] = byte(tag)
	binary.LittleEndian.PutUint64(hdr[5:13], uint64(len(raw)))
	binary.LittleEndian.PutUint64(hdr[13:21], uint64(len(payload)))
	var nn int
	if nn, err = w.Write(hdr[:]); err != nil {
		return int64(nn), err
	}
	n = int64(nn)
	nn, err = w.Write(payload)
	n += int64(nn)
	return
}

// Read reads one framed record written by Write and decodes it into v.
func Read(r io.Reader, v any) (err error) {
	var hdr [headerSize]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("reading record header: %w", err)
	}
	if string(hdr[:4]) != magic {
		return fmt.Errorf("bad record magic %q", hdr[:4])
	}
	var (
		tag        = CompressionTag(hdr[4])
		rawLen     = binary.LittleEndian.Uint64(hdr[5:13])
		payloadLen = binary.LittleEndian.Uint64(hdr[13:21])
		payload    = make([]byte, payloadLen)
		raw        []byte
	)
	if _, err = io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("reading record payload: %w", err)
	}
	if raw, err = DecompressChunk(payload, tag, int(rawLen)); err != nil {
		return err
	}
	return Unmarshal(raw, v)
}
