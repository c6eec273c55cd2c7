package host

import (
	"bytes"
	"errors"
	"io"

	"github.com/pierrec/lz4/v4"
)

// compressMinBytes is the smallest packet CompressOutgoing will bother
// compressing; below this LZ4's own framing overhead outweighs any gain.
const compressMinBytes = 128

const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

// ErrEmptyPayload is returned by DecompressIncoming for a zero-length input,
// which can never carry a valid flag byte.
var ErrEmptyPayload = errors.New("host: empty payload")

// CompressOutgoing prefixes packet with a one-byte flag and, for packets at
// least compressMinBytes long, LZ4-compresses the body when doing so
// actually shrinks it. The engine calls this on an upper-stack packet before
// handing it to fragment.Encode, so the flag travels as part of the
// reassembled payload rather than the fragment header.
func CompressOutgoing(packet []byte) ([]byte, error) {
	if len(packet) < compressMinBytes {
		return append([]byte{flagPlain}, packet...), nil
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(packet); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	if buf.Len() >= len(packet) {
		return append([]byte{flagPlain}, packet...), nil
	}
	return append([]byte{flagCompressed}, buf.Bytes()...), nil
}

// DecompressIncoming strips the flag byte CompressOutgoing added and
// reverses any compression. The engine calls this once a fragment sequence
// has fully reassembled, before delivering the packet through Inbound.
func DecompressIncoming(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, ErrEmptyPayload
	}
	flag, body := packet[0], packet[1:]
	if flag == flagPlain {
		return append([]byte(nil), body...), nil
	}

	var out bytes.Buffer
	zr := lz4.NewReader(bytes.NewReader(body))
	if _, err := io.Copy(&out, zr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
