package modbus

// Field is a typed accessor bound to a single scalar location within a
// Layout sub-aggregate, combining a FieldRef with Get/Set that route
// through the byte-order adapter so callers never byte-swap by hand.
//
// Grounded on original_source/include/modbus-register.h's read/write
// member-accessor templates.
type Field[T Numeric] struct {
	ref FieldRef
	sub *SubAggregate
}

// NewTypedField describes a field of type T at byteOffset within sub.
func NewTypedField[T Numeric](sub *SubAggregate, byteOffset int) Field[T] {
	return Field[T]{ref: NewField(sub, byteOffset, sizeofNumeric[T]()), sub: sub}
}

func (f Field[T]) Ref() FieldRef { return f.ref }

// Get returns the field's current value, converting out of the
// sub-aggregate's big-endian wire-order storage.
func (f Field[T]) Get() T {
	return numeric[T](f.sub.Data[f.ref.ByteStart:f.ref.ByteEnd])
}

// Set stores v, converting into the sub-aggregate's big-endian
// wire-order storage.
func (f Field[T]) Set(v T) {
	putNumeric(f.sub.Data[f.ref.ByteStart:f.ref.ByteEnd], v)
}

// Bit is a typed accessor bound to a single coil/discrete-input bit.
type Bit struct {
	ref BitRef
	sub *SubAggregate
}

// NewTypedBit describes a single bit at index within sub.
func NewTypedBit(sub *SubAggregate, index int) Bit {
	return Bit{ref: NewBit(sub, index), sub: sub}
}

func (b Bit) Ref() BitRef { return b.ref }

func (b Bit) Get() bool {
	byteIdx, bitIdx := b.ref.StartBit/8, uint(b.ref.StartBit%8)
	return b.sub.Data[byteIdx]&(1<<bitIdx) != 0
}

func (b Bit) Set(v bool) {
	byteIdx, bitIdx := b.ref.StartBit/8, uint(b.ref.StartBit%8)
	if v {
		b.sub.Data[byteIdx] |= 1 << bitIdx
	} else {
		b.sub.Data[byteIdx] &^= 1 << bitIdx
	}
}
