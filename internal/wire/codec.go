package wire

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	serial "github.com/allbin/go-portsh"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// windowSize is the deflate history a frame may refer back into
const windowSize = 1 << 15

// syncMarker is the empty stored block that ends every sync flush
var syncMarker = []byte{0x00, 0x00, 0xff, 0xff}

// Encoder compresses one direction of a session. Every call continues the
// same zlib stream, so the peer must decode the frames in the same order.
type Encoder struct {
	out bytes.Buffer
	zw  *zlib.Writer
}

// NewEncoder starts a new compression stream
func NewEncoder() *Encoder {
	e := &Encoder{}
	// Below level 7 the compressor forgets its window on every Flush,
	// which would make each frame decodable on its own.
	e.zw, _ = zlib.NewWriterLevel(&e.out, zlib.BestCompression)
	return e
}

// Encode compresses p, sync flushes, and returns the base64 text. The
// result never contains a newline.
func (e *Encoder) Encode(p []byte) (string, error) {
	e.out.Reset()
	if _, err := e.zw.Write(p); err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	if err := e.zw.Flush(); err != nil {
		return "", fmt.Errorf("compress flush: %w", err)
	}
	return base64.StdEncoding.EncodeToString(e.out.Bytes()), nil
}

// Decoder reverses an Encoder stream.
//
// Each frame ends on a sync point, so the inflater state between frames is
// just the last 32 KiB of output. Decode keeps that window and inflates
// every frame against it. A frame that does not fit the stream leaves the
// Decoder permanently failed.
type Decoder struct {
	history []byte
	started bool
	err     error
}

// NewDecoder returns a Decoder expecting the start of a zlib stream
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes one frame produced by the peer's Encoder
func (d *Decoder) Decode(text string) ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, d.fail(fmt.Errorf("base64: %w", err))
	}
	if !d.started {
		if raw, err = stripZlibHeader(raw); err != nil {
			return nil, d.fail(err)
		}
		d.started = true
	}
	if !bytes.HasSuffix(raw, syncMarker) {
		return nil, d.fail(errors.New("frame does not end on a sync flush"))
	}

	fr := flate.NewReaderDict(bytes.NewReader(raw), d.history)
	out, err := io.ReadAll(fr)
	// Running out of input right after the sync marker is the normal end
	// of a frame.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, d.fail(fmt.Errorf("inflate: %w", err))
	}

	d.history = append(d.history, out...)
	if len(d.history) > windowSize {
		d.history = append([]byte(nil), d.history[len(d.history)-windowSize:]...)
	}
	return out, nil
}

func (d *Decoder) fail(err error) error {
	d.err = fmt.Errorf("%w: %v", serial.ErrDesync, err)
	return d.err
}

// stripZlibHeader checks and removes the two byte zlib stream header
func stripZlibHeader(raw []byte) ([]byte, error) {
	if len(raw) < 2 {
		return nil, errors.New("short zlib header")
	}
	cmf, flg := raw[0], raw[1]
	if cmf&0x0f != 8 || (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return nil, fmt.Errorf("bad zlib header %#02x %#02x", cmf, flg)
	}
	if flg&0x20 != 0 {
		return nil, errors.New("zlib preset dictionary not supported")
	}
	return raw[2:], nil
}

// CompressOnce zlib compresses p as a complete stream and returns base64
// text. It is used for one-shot uploads outside the session streams.
func CompressOnce(p []byte) (string, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
