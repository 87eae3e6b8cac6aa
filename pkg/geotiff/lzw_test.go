package geotiff

import (
	"bytes"
	"io"
	"testing"

	"golang.org/x/image/tiff/lzw"
)

func TestCompressLZWKnownBytes(t *testing.T) {
	// Worked example from the TIFF 6.0 LZW section: the input compresses to
	// codes 256, 7, 258, 8, 8, 258, 6, 6, 257, packed MSB-first at 9 bits.
	got := compressLZW([]byte{7, 7, 7, 8, 8, 7, 7, 6, 6})
	want := []byte{0x80, 0x03, 0xE0, 0x40, 0x80, 0x44, 0x08, 0x0C, 0x06, 0x80, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("compressLZW = %x, want %x", got, want)
	}
}

func TestCompressLZWRoundTrip(t *testing.T) {
	// Enough distinct phrases to drive the code table through every width
	// switch and a table reset. The decoder is the independent early-change
	// implementation, so a mismatch in switch timing desyncs immediately.
	data := make([]byte, 64<<10)
	for i := range data {
		data[i] = byte((i*i + i/3) % 251)
	}

	rc := lzw.NewReader(bytes.NewReader(compressLZW(data)), lzw.MSB, 8)
	defer rc.Close()
	decoded, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Fatalf("round trip mismatch: %d bytes decoded, want %d", len(decoded), len(data))
	}
}
