package modbus

import "testing"

func TestByteCountForBits(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 7: 1, 8: 1, 9: 2, 16: 2, 26: 4}
	for bits, want := range cases {
		if got := byteCountForBits(bits); got != want {
			t.Errorf("byteCountForBits(%d) = %d, want %d", bits, got, want)
		}
	}
}

func TestIsRegisterCovered(t *testing.T) {
	sub := &SubAggregate{Space: SpaceHoldingRegisters, Offset: 100, Data: make([]byte, 8)} // 4 registers: 100..103
	cases := []struct {
		offset, count uint16
		want          Tag
	}{
		{100, 4, OK},
		{100, 1, OK},
		{103, 1, OK},
		{99, 1, RegisterNotFullyCovered},
		{101, 4, RegisterNotFullyCovered},
		{104, 1, RegisterNotFullyCovered},
	}
	for _, c := range cases {
		if got := isRegisterCovered(sub, c.offset, c.count); got != c.want {
			t.Errorf("isRegisterCovered(offset=%d, count=%d) = %q, want %q", c.offset, c.count, got, c.want)
		}
	}
	if got := isRegisterCovered(nil, 0, 1); got != RegisterNotFullyCovered {
		t.Errorf("isRegisterCovered(nil, ...) = %q, want %q", got, RegisterNotFullyCovered)
	}
}

func TestIsBitCovered(t *testing.T) {
	sub := &SubAggregate{Space: SpaceCoils, Offset: 20, Data: make([]byte, 4), BitLen: 26}
	cases := []struct {
		start, count int
		want         Tag
	}{
		{0, 26, OK},
		{0, 1, OK},
		{25, 1, OK},
		{-1, 1, BitsNotFullyCovered},
		{26, 1, BitsNotFullyCovered},
		{20, 10, BitsNotFullyCovered},
	}
	for _, c := range cases {
		if got := isBitCovered(sub, c.start, c.count); got != c.want {
			t.Errorf("isBitCovered(start=%d, count=%d) = %q, want %q", c.start, c.count, got, c.want)
		}
	}
}

func TestReadWriteBitsToStorageRoundTrip(t *testing.T) {
	sub := &SubAggregate{Space: SpaceCoils, Offset: 0, Data: make([]byte, 4), BitLen: 26}
	src := []byte{0x3D, 0x01, 0x00, 0x02}
	writeBitsToStorage(sub, 0, 26, src)

	dst := make([]byte, 4)
	readBitsFromStorage(sub, 0, 26, dst)
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("round trip byte %d = %#02x, want %#02x", i, dst[i], src[i])
		}
	}
}

func TestWriteBitsToStoragePreservesUnaffectedBits(t *testing.T) {
	sub := &SubAggregate{Space: SpaceCoils, Offset: 0, Data: make([]byte, 1), BitLen: 8}
	sub.Data[0] = 0xFF // all bits set
	writeBitsToStorage(sub, 2, 3, []byte{0x00}) // clear bits 2,3,4

	want := byte(0xE3) // 1110 0011
	if sub.Data[0] != want {
		t.Fatalf("Data[0] = %#08b, want %#08b", sub.Data[0], want)
	}
}

func TestFieldRangeRejectsDifferentSpaces(t *testing.T) {
	a := &SubAggregate{Space: SpaceHoldingRegisters, Offset: 0, Data: make([]byte, 8)}
	b := &SubAggregate{Space: SpaceInputRegisters, Offset: 0, Data: make([]byte, 8)}
	_, err := FieldRange(NewField(a, 0, 2), NewField(b, 0, 2))
	if err != ErrNotSameSubAggregate {
		t.Fatalf("FieldRange across spaces = %v, want %v", err, ErrNotSameSubAggregate)
	}
}

func TestFieldGetSet(t *testing.T) {
	sub := &SubAggregate{Space: SpaceHoldingRegisters, Offset: 0, Data: make([]byte, 8)}
	f := NewTypedField[uint16](sub, 2)
	f.Set(0xBEEF)
	if got := f.Get(); got != 0xBEEF {
		t.Fatalf("Get() = %#04x, want 0xBEEF", got)
	}
	if sub.Data[2] != 0xBE || sub.Data[3] != 0xEF {
		t.Fatalf("Data[2:4] = %v, want big-endian [0xBE 0xEF]", sub.Data[2:4])
	}
}

func TestBitGetSet(t *testing.T) {
	sub := &SubAggregate{Space: SpaceCoils, Offset: 0, Data: make([]byte, 2), BitLen: 16}
	b := NewTypedBit(sub, 9)
	b.Set(true)
	if sub.Data[1] != 0x02 {
		t.Fatalf("Data[1] = %#08b, want 0b00000010", sub.Data[1])
	}
	if !b.Get() {
		t.Fatal("Get() = false after Set(true)")
	}
	b.Set(false)
	if b.Get() {
		t.Fatal("Get() = true after Set(false)")
	}
}
