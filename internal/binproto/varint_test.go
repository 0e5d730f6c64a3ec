package binproto

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, -1, 63, -63, 64, -64, 4095, -4095,
		1 << 20, -(1 << 20), 1 << 40, -(1 << 40),
	}
	for _, v := range values {
		buf := EncodeVarint(nil, v)
		got, n := DecodeVarint(buf)
		if got != v {
			t.Errorf("EncodeVarint/DecodeVarint(%d): got %d", v, got)
		}
		if n != len(buf) {
			t.Errorf("DecodeVarint(%d): consumed %d bytes, encoded length was %d", v, n, len(buf))
		}
	}
}

func TestVarintRoundTripRange(t *testing.T) {
	const bound = int64(1) << 40
	step := int64(104729) // arbitrary odd stride to sample the range
	for v := -bound; v <= bound; v += step {
		buf := EncodeVarint(nil, v)
		got, n := DecodeVarint(buf)
		if got != v || n != len(buf) {
			t.Fatalf("round trip failed for %d: got=%d n=%d len=%d", v, got, n, len(buf))
		}
	}
}

func TestVarintAppendsToExistingSlice(t *testing.T) {
	buf := []byte{0xFF}
	buf = EncodeVarint(buf, 300)
	if buf[0] != 0xFF {
		t.Fatalf("EncodeVarint must not clobber existing bytes")
	}
	got, n := DecodeVarint(buf[1:])
	if got != 300 || n != len(buf)-1 {
		t.Fatalf("round trip on appended buffer failed: got=%d n=%d", got, n)
	}
}
