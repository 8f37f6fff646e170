package tuner

import (
	"bytes"
	"io"
)

const tsSyncByte = 0x47
const tsPacketLen = 188

// payloadKind classifies the first bytes of an upstream body.
type payloadKind int

const (
	kindMPEGTS    payloadKind = iota // clean transport stream
	kindHLS                          // m3u8 playlist; relayed as-is
	kindScrambled                    // TS under a single-byte XOR (key recovered)
	kindOpaque                       // unrecognized binary; passed through raw
	kindGarbage                      // textual error page or similar; not playable
)

// sniffPayload inspects a prefix of the upstream body. Some providers XOR
// the whole transport stream with one key byte; since every TS packet starts
// with 0x47, the key falls out of the first byte and is confirmed against
// the following sync positions.
func sniffPayload(prefix []byte) (payloadKind, byte) {
	if len(prefix) == 0 {
		return kindGarbage, 0
	}
	if bytes.HasPrefix(prefix, []byte("#EXTM3U")) {
		return kindHLS, 0
	}
	if prefix[0] == tsSyncByte {
		if len(prefix) <= tsPacketLen || prefix[tsPacketLen] == tsSyncByte {
			return kindMPEGTS, 0
		}
	}
	if key := prefix[0] ^ tsSyncByte; key != 0 && len(prefix) > tsPacketLen {
		if prefix[tsPacketLen]^key == tsSyncByte &&
			(len(prefix) <= 2*tsPacketLen || prefix[2*tsPacketLen]^key == tsSyncByte) {
			return kindScrambled, key
		}
	}
	if looksLikeText(prefix) {
		return kindGarbage, 0
	}
	return kindOpaque, 0
}

// looksLikeText reports whether buf is overwhelmingly printable ASCII —
// a provider HTML/JSON error body rather than media.
func looksLikeText(buf []byte) bool {
	if len(buf) < 16 {
		return true
	}
	printable := 0
	for _, c := range buf {
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c < 0x7F) {
			printable++
		}
	}
	return printable*10 >= len(buf)*9
}

// xorReader descrambles a single-byte-XOR stream on the fly.
type xorReader struct {
	r   io.Reader
	key byte
}

func (x *xorReader) Read(p []byte) (int, error) {
	n, err := x.r.Read(p)
	for i := 0; i < n; i++ {
		p[i] ^= x.key
	}
	return n, err
}

// xorBytes descrambles buf in place and returns it.
func xorBytes(buf []byte, key byte) []byte {
	for i := range buf {
		buf[i] ^= key
	}
	return buf
}
