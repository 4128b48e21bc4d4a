package modbus

// RegisterSpace names one of the four Modbus register spaces a Layout
// sub-aggregate can back. The naming follows this library's convention:
//
//	SpaceCoils            bits_registers         FC 1 read  / FC 15 write
//	SpaceDiscreteInputs   bits_write_registers   FC 2 read  / FC 5  write
//	SpaceHoldingRegisters halfs_registers        FC 3 read  / read-only
//	SpaceInputRegisters   halfs_write_registers  FC 4 read  / FC 6 + FC 16 write
//
// The halfs spaces are deliberately asymmetric: holding registers are
// never a write target in this library's convention, while input
// registers take both the single- and the multiple-register write FC.
type RegisterSpace uint8

const (
	SpaceCoils RegisterSpace = iota
	SpaceDiscreteInputs
	SpaceHoldingRegisters
	SpaceInputRegisters
)

func (s RegisterSpace) isBits() bool {
	return s == SpaceCoils || s == SpaceDiscreteInputs
}

// SubAggregate is one named, packed region of a Layout: either a bit
// array (coils/discrete inputs) or a byte array of 16-bit-aligned
// scalar fields (holding/input registers), starting at Modbus register
// or coil number Offset.
//
// Grounded on original_source/include/modbus-register.h's per-space
// storage members, generalized from C++ template parameters to a
// runtime-configured struct.
type SubAggregate struct {
	Space  RegisterSpace
	Offset uint16
	Data   []byte
	// BitLen is the number of valid bits when Space.isBits(); it may be
	// less than len(Data)*8, in which case the trailing bits of the
	// last byte are padding and never addressed.
	BitLen int
}

// registerCapacity returns how many registers (halfs) or bits (bits)
// the sub-aggregate holds.
func (s *SubAggregate) registerCapacity() int {
	if s.Space.isBits() {
		return s.BitLen
	}
	return len(s.Data) / 2
}

// Layout is the compile-time-declared register map an Engine binds to:
// up to four optional sub-aggregates, one per RegisterSpace.
//
// Grounded on original_source/include/modbus-register.h's
// modbus_register<Layout, MAX_SIZE> template parameter.
type Layout struct {
	Coils           *SubAggregate
	DiscreteInputs  *SubAggregate
	HoldingRegisters *SubAggregate
	InputRegisters  *SubAggregate
}

func (l *Layout) sub(space RegisterSpace) *SubAggregate {
	switch space {
	case SpaceCoils:
		return l.Coils
	case SpaceDiscreteInputs:
		return l.DiscreteInputs
	case SpaceHoldingRegisters:
		return l.HoldingRegisters
	case SpaceInputRegisters:
		return l.InputRegisters
	}
	return nil
}

// FieldRef describes a halfs (register) field or range: which space it
// lives in, its Modbus register offset/count, and the byte span inside
// the sub-aggregate's Data it is backed by.
//
// Grounded on original_source/include/modbus-register.h's field
// descriptor arguments to get_frame_read/get_frame_write, collapsed
// from pointer-to-member template arguments into an explicit value type.
type FieldRef struct {
	Space     RegisterSpace
	RegOffset uint16
	RegCount  uint16
	ByteStart int
	ByteEnd   int
}

// NewField describes a single scalar field of byte width size occupying
// [byteOffset, byteOffset+size) within sub's Data.
func NewField(sub *SubAggregate, byteOffset, size int) FieldRef {
	if sub.Space.isBits() {
		panic("modbus: NewField used on a bit sub-aggregate")
	}
	return FieldRef{
		Space:     sub.Space,
		RegOffset: sub.Offset + uint16(byteOffset/2),
		RegCount:  uint16(size / 2),
		ByteStart: byteOffset,
		ByteEnd:   byteOffset + size,
	}
}

// FieldRange merges two field references, inclusive of the second, into
// a single contiguous range. Both must belong to the same sub-aggregate
// and the second must not start before the first.
func FieldRange(a, b FieldRef) (FieldRef, error) {
	if a.Space != b.Space {
		return FieldRef{}, ErrNotSameSubAggregate
	}
	start, end := a.ByteStart, a.ByteEnd
	if b.ByteStart < start {
		start = b.ByteStart
	}
	if b.ByteEnd > end {
		end = b.ByteEnd
	}
	return FieldRef{
		Space:     a.Space,
		RegOffset: a.RegOffset,
		RegCount:  uint16((end - start) / 2),
		ByteStart: start,
		ByteEnd:   end,
	}, nil
}

// BitRef describes a single bit or inclusive bit range within a bits
// sub-aggregate, in absolute bit-index terms (0 == the sub-aggregate's
// first bit, Modbus number Offset+0).
type BitRef struct {
	Space    RegisterSpace
	StartBit int
	EndBit   int // inclusive
}

// NewBit describes a single coil/discrete-input bit at the given
// zero-based index within sub.
func NewBit(sub *SubAggregate, bitIndex int) BitRef {
	if !sub.Space.isBits() {
		panic("modbus: NewBit used on a halfs sub-aggregate")
	}
	return BitRef{Space: sub.Space, StartBit: bitIndex, EndBit: bitIndex}
}

// BitRange merges two bit references, generalizing the original's
// "mask value with exactly one or two bits set" convention to explicit
// indices: the lower and higher of the two indices become start/end,
// inclusive.
func BitRange(a, b BitRef) (BitRef, Tag) {
	if a.Space != b.Space {
		return BitRef{}, "NOT_SAME_SUB_AGGREGATE"
	}
	start, end := a.StartBit, b.StartBit
	if start > end {
		start, end = end, start
	}
	return BitRef{Space: a.Space, StartBit: start, EndBit: end}, OK
}

func (r BitRef) count() int { return r.EndBit - r.StartBit + 1 }

// isRegisterCovered checks that [regOffset, regOffset+regCount) lies
// entirely within sub.
func isRegisterCovered(sub *SubAggregate, regOffset, regCount uint16) Tag {
	if sub == nil {
		return RegisterNotFullyCovered
	}
	if regOffset < sub.Offset {
		return RegisterNotFullyCovered
	}
	end := uint32(regOffset) + uint32(regCount)
	if end > uint32(sub.Offset)+uint32(sub.registerCapacity()) {
		return RegisterNotFullyCovered
	}
	return OK
}

// isBitCovered checks that [startBit, startBit+bitCount) lies entirely
// within sub (startBit relative to sub.Offset, i.e. absolute Modbus coil
// number minus sub.Offset).
func isBitCovered(sub *SubAggregate, startBit, bitCount int) Tag {
	if sub == nil {
		return BitsNotFullyCovered
	}
	if startBit < 0 {
		return BitsNotFullyCovered
	}
	if startBit+bitCount > sub.registerCapacity() {
		return BitsNotFullyCovered
	}
	return OK
}

func byteCountForBits(bitCount int) int {
	return (bitCount + 7) / 8
}

// readBitsFromStorage packs bitCount bits starting at absolute bit index
// startBit out of sub.Data into dst, least-significant-bit first within
// each byte, ascending register order — the wire representation used by
// FC 1/2 responses and FC 15 requests.
//
// Grounded on original_source/include/modbus-register.h's
// read_bits_from_storage.
func readBitsFromStorage(sub *SubAggregate, startBit, bitCount int, dst []byte) {
	for i := 0; i < bitCount; i++ {
		bit := startBit + i
		byteIdx, bitIdx := bit/8, uint(bit%8)
		set := sub.Data[byteIdx]&(1<<bitIdx) != 0
		dstByte, dstBit := i/8, uint(i%8)
		if set {
			dst[dstByte] |= 1 << dstBit
		}
	}
}

// writeBitsToStorage unpacks bitCount bits out of src (same wire layout
// as readBitsFromStorage) into sub.Data starting at absolute bit index
// startBit, clearing each target bit before OR-writing so that
// unaffected bits of a partially-overwritten byte are preserved.
//
// Grounded on original_source/include/modbus-register.h's
// write_bits_to_storage.
func writeBitsToStorage(sub *SubAggregate, startBit, bitCount int, src []byte) {
	for i := 0; i < bitCount; i++ {
		bit := startBit + i
		byteIdx, bitIdx := bit/8, uint(bit%8)
		srcByte, srcBit := i/8, uint(i%8)
		set := src[srcByte]&(1<<srcBit) != 0
		sub.Data[byteIdx] &^= 1 << bitIdx
		if set {
			sub.Data[byteIdx] |= 1 << bitIdx
		}
	}
}
