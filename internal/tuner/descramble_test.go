package tuner

import (
	"bytes"
	"io"
	"testing"
)

// tsPayload builds n clean TS packets with distinct payload bytes.
func tsPayload(n int) []byte {
	buf := make([]byte, n*tsPacketLen)
	for i := range buf {
		if i%tsPacketLen == 0 {
			buf[i] = tsSyncByte
		} else {
			buf[i] = byte(i % 251)
		}
	}
	return buf
}

func TestSniffPayload(t *testing.T) {
	clean := tsPayload(3)
	scrambled := xorBytes(append([]byte(nil), clean...), 0x5A)

	opaque := bytes.Repeat([]byte{0x90, 0x91, 0x92}, 200)
	opaque[0] = 0x01 // key would be 0x46, but offset 188 doesn't confirm

	tests := []struct {
		name     string
		prefix   []byte
		wantKind payloadKind
		wantKey  byte
	}{
		{"clean ts", clean, kindMPEGTS, 0},
		{"short clean ts", clean[:10], kindMPEGTS, 0},
		{"hls playlist", []byte("#EXTM3U\n#EXT-X-VERSION:3\n"), kindHLS, 0},
		{"xor scrambled", scrambled, kindScrambled, 0x5A},
		{"html error page", []byte("<html><body>Account expired, renew at provider.example</body></html>"), kindGarbage, 0},
		{"empty", nil, kindGarbage, 0},
		{"opaque binary", opaque, kindOpaque, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, key := sniffPayload(tt.prefix)
			if kind != tt.wantKind || key != tt.wantKey {
				t.Errorf("sniffPayload = (%v, %#x), want (%v, %#x)", kind, key, tt.wantKind, tt.wantKey)
			}
		})
	}
}

func TestXorReaderRoundTrip(t *testing.T) {
	clean := tsPayload(5)
	scrambled := xorBytes(append([]byte(nil), clean...), 0x33)

	got, err := io.ReadAll(&xorReader{r: bytes.NewReader(scrambled), key: 0x33})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, clean) {
		t.Error("descrambled stream differs from original")
	}
}

func TestSniffRecoversKeyEndToEnd(t *testing.T) {
	clean := tsPayload(4)
	for _, key := range []byte{0x01, 0x5A, 0xFF} {
		scrambled := xorBytes(append([]byte(nil), clean...), key)
		kind, got := sniffPayload(scrambled[:sniffLen])
		if kind != kindScrambled || got != key {
			t.Fatalf("key %#x: sniff = (%v, %#x)", key, kind, got)
		}
		if !bytes.Equal(xorBytes(scrambled, got), clean) {
			t.Fatalf("key %#x: descramble mismatch", key)
		}
	}
}
