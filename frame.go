package modbus

// Transport identifies which wire encoding a Frame is (or will be) using.
type Transport uint8

const (
	TransportNone Transport = iota
	TransportRTU
	TransportTCP
	TransportASCII
)

// FunctionCode is a standard Modbus function code, as carried on the wire
// without the high "exception" bit set.
type FunctionCode uint8

const (
	FCNone                   FunctionCode = 0
	FCReadCoils              FunctionCode = 1
	FCReadDiscreteInputs     FunctionCode = 2
	FCReadHoldingRegisters   FunctionCode = 3
	FCReadInputRegisters     FunctionCode = 4
	FCWriteSingleCoil        FunctionCode = 5
	FCWriteSingleRegister    FunctionCode = 6
	FCReadExceptionStatus    FunctionCode = 7
	FCDiagnostics            FunctionCode = 8
	FCWriteMultipleCoils     FunctionCode = 15
	FCWriteMultipleRegisters FunctionCode = 16
)

// FrameState is one of the states of the per-byte parsing/building state
// machine that drives Frame.process.
type FrameState uint8

const (
	StateAwaitAddrOrMBAP FrameState = iota
	StateWriteAddr
	StateWriteFC
	StateWriteLength
	StateWriteDataOrEC
	StateWriteData
	StateWriteCRC0
	StateWriteCRC1
	StateFinal
)

// frameKind are the REQUEST/RESPONSE/EXCEPTION flags carried by a frame.
type frameKind struct {
	request   bool
	response  bool
	exception bool
}

// fcRequiresLength reports whether a length byte is present for fc under
// kind: present in REQUESTS for FC 15/16, and in RESPONSES for FC 1-4.
func fcRequiresLength(fc FunctionCode, kind frameKind) bool {
	if kind.exception {
		return false
	}
	if kind.request && (fc == FCWriteMultipleCoils || fc == FCWriteMultipleRegisters) {
		return true
	}
	if kind.response && fc >= FCReadCoils && fc <= FCReadInputRegisters {
		return true
	}
	return false
}

// fcLengthPrelude is the number of plain data bytes that precede the
// byte-count byte for fc/kind, when fcRequiresLength is true: 0 for
// read responses (byte-count is the first data byte), 4 for
// write-multiple requests (byte-count follows reg-offset+reg-count).
func fcLengthPrelude(fc FunctionCode, kind frameKind) int {
	if kind.request && (fc == FCWriteMultipleCoils || fc == FCWriteMultipleRegisters) {
		return 4
	}
	return 0
}

const noIdx = -1

// Frame holds the streaming encode/decode state for a single Modbus PDU
// plus its transport envelope: current state, transport tag, a
// fixed-capacity byte buffer, and slice-offset back-pointers into it for
// addr/fc/byte-count/ec/data/mbap-header.
//
// Back-pointers are stored as buffer offsets rather than raw pointers so
// that clear() trivially invalidates them and no aliasing rules are
// broken.
//
// Grounded on original_source/include/common.h's modbus_frame<N>.
type Frame struct {
	state     FrameState
	transport Transport
	kind      frameKind
	buf       buffer

	hasTCPHeader bool
	addrIdx      int
	fcIdx        int
	byteCountIdx int
	ecIdx        int
	dataIdx      int
}

// NewFrame returns a Frame ready to start building or parsing a request.
func NewFrame() *Frame {
	f := &Frame{}
	f.clear()
	return f
}

// clear resets all state and back-pointers, ready for the next frame.
func (f *Frame) clear() {
	f.state = StateAwaitAddrOrMBAP
	f.transport = TransportNone
	f.buf.clear()
	f.hasTCPHeader = false
	f.addrIdx = noIdx
	f.fcIdx = noIdx
	f.byteCountIdx = noIdx
	f.ecIdx = noIdx
	f.dataIdx = noIdx
	f.kind = frameKind{request: true}
}

func (f *Frame) setKind(k frameKind) { f.kind = k }

func (f *Frame) isASCII() bool { return f.buf.size > 0 && f.buf.data[0] == ':' }
func (f *Frame) isTCP() bool   { return f.hasTCPHeader }
func (f *Frame) isRTU() bool   { return f.addrIdx != noIdx && !f.isASCII() && !f.isTCP() }

// span returns the bytes built/parsed so far.
func (f *Frame) span() []byte { return f.buf.span() }

func (f *Frame) fc() FunctionCode {
	if f.fcIdx == noIdx {
		return FCNone
	}
	return FunctionCode(f.buf.data[f.fcIdx])
}

// missingDataBytes computes how many more payload bytes must arrive
// before the frame is complete, accounting for the byte-count byte
// sitting at different wire offsets for read-responses (immediately
// after fc) and write-multiple requests (after reg-offset+reg-count) —
// see fcLengthPrelude.
func (f *Frame) missingDataBytes() int {
	if f.fcIdx == noIdx {
		return -1
	}
	if fcRequiresLength(f.fc(), f.kind) {
		if f.byteCountIdx == noIdx {
			// Byte-count byte not reached yet; more prelude bytes expected.
			return 1
		}
		bytesAfterByteCount := f.buf.end() - f.byteCountIdx
		return int(f.buf.data[f.byteCountIdx]) - bytesAfterByteCount + 1
	}
	return 5 - (f.buf.end() - f.fcIdx)
}

// ---------------------------------------------------------------------
// Builder path (used by get_frame_read/write/response/error_response).
// ---------------------------------------------------------------------

func (f *Frame) writeASCIIStart() Tag {
	if f.state != StateAwaitAddrOrMBAP {
		return "STATE_NOT_WRITE_START"
	}
	if !f.buf.push(':') {
		return "WRITE_ASCII_START_FAILED"
	}
	f.transport = TransportASCII
	f.state = StateWriteAddr
	return OK
}

// writeMBAP writes the 6-byte MBAP header (transaction id, protocol id
// fixed at 0, and a zero length placeholder patched in later).
func (f *Frame) writeMBAP(transactionID uint16) Tag {
	if f.state != StateAwaitAddrOrMBAP {
		return "STATE_NOT_WRITE_MBAP"
	}
	hdr := [6]byte{byte(transactionID >> 8), byte(transactionID), 0, 0, 0, 0}
	for _, b := range hdr {
		if !f.buf.push(b) {
			return "WRITE_TCP_HEADER_FAILED"
		}
	}
	f.hasTCPHeader = true
	f.transport = TransportTCP
	f.state = StateWriteAddr
	return OK
}

func (f *Frame) writeAddr(addr byte) Tag {
	if f.state != StateAwaitAddrOrMBAP && f.state != StateWriteAddr {
		return "STATE_NOT_WRITE_ADDR"
	}
	f.addrIdx = f.buf.end()
	if !f.buf.push(addr) {
		return "WRITE_ADDR_FAILED"
	}
	if f.transport == TransportNone {
		f.transport = TransportRTU
	}
	f.state = StateWriteFC
	return OK
}

// writeFCRaw pushes the already-computed wire byte (with the exception
// bit folded in by the caller) and advances the state machine based on
// the canonical (non-exception) function code.
func (f *Frame) writeFCRaw(canonical FunctionCode, wire byte) Tag {
	if f.state != StateWriteFC {
		return "STATE_NOT_WRITE_FC"
	}
	if canonical > FCWriteMultipleRegisters {
		return InvalidFunctionCode
	}
	f.fcIdx = f.buf.end()
	if !f.buf.push(wire) {
		return "WRITE_FC_FAILED"
	}
	if fcRequiresLength(canonical, f.kind) && fcLengthPrelude(canonical, f.kind) == 0 {
		f.state = StateWriteLength
	} else {
		f.state = StateWriteDataOrEC
	}
	return OK
}

// writeFC is the builder entry point: ORs the exception bit into the
// wire byte when the frame is flagged as an exception response.
func (f *Frame) writeFC(fc FunctionCode) Tag {
	wire := byte(fc)
	if f.kind.exception {
		wire |= 0x80
	}
	return f.writeFCRaw(fc, wire)
}

// recvFC is the parser entry point: detects the exception bit on an
// inbound byte, flags it, and stores the masked, canonical value.
func (f *Frame) recvFC(b byte) Tag {
	canonical := b
	if canonical&0x80 != 0 {
		f.kind.exception = true
		canonical &^= 0x80
	}
	return f.writeFCRaw(FunctionCode(canonical), canonical)
}

func (f *Frame) writeLength(l byte) Tag {
	if f.state != StateWriteLength {
		return "STATE_NOT_WRITE_LENGTH"
	}
	f.byteCountIdx = f.buf.end()
	if !f.buf.push(l) {
		return "WRITE_LENGTH_FAILED"
	}
	f.state = StateWriteData
	return OK
}

func (f *Frame) writeData(b byte) Tag {
	if f.state != StateWriteDataOrEC && f.state != StateWriteData {
		return "STATE_NOT_WRITE_DATA"
	}
	if f.dataIdx == noIdx {
		f.dataIdx = f.buf.end()
	}
	if f.byteCountIdx == noIdx && fcRequiresLength(f.fc(), f.kind) {
		bytesAfterFCBeforePush := f.buf.end() - f.fcIdx - 1
		if bytesAfterFCBeforePush == fcLengthPrelude(f.fc(), f.kind) {
			f.byteCountIdx = f.buf.end()
		}
	}
	if !f.buf.push(b) {
		return "WRITE_DATA_FAILED"
	}
	missing := f.missingDataBytes()
	switch {
	case missing == 0 && f.hasTCPHeader:
		f.state = StateFinal
	case missing == 0:
		f.state = StateWriteCRC0
	default:
		f.state = StateWriteData
	}
	return OK
}

// writeDataBytes writes each byte of data in turn, used by the builder
// when emitting a contiguous payload.
func (f *Frame) writeDataBytes(data []byte) Tag {
	for _, b := range data {
		if r := f.writeData(b); r != OK {
			return "WRITE_DATA_FAILED"
		}
	}
	return OK
}

// writeDataZeros reserves n placeholder bytes, returning the index of
// the first one so the caller can fill them in-place afterward (used to
// bit-pack directly into the buffer once its final position is known).
func (f *Frame) writeDataZeros(n int) (start int, tag Tag) {
	start = f.buf.end()
	for i := 0; i < n; i++ {
		if r := f.writeData(0); r != OK {
			return start, "WRITE_DATA_FAILED"
		}
	}
	return start, OK
}

func (f *Frame) writeEC(ec byte) Tag {
	if f.state != StateWriteDataOrEC {
		return "STATE_NOT_WRITE_EC"
	}
	f.ecIdx = f.buf.end()
	if !f.buf.push(ec) {
		return "WRITE_EC_FAILED"
	}
	if f.hasTCPHeader {
		f.state = StateFinal
	} else {
		f.state = StateWriteCRC0
	}
	return OK
}

// writeChecksum16 writes both CRC bytes (low, then high) in one call, as
// used by the frame builders once the full PDU is known.
func (f *Frame) writeChecksum16(crc uint16) Tag {
	if f.state != StateWriteCRC0 {
		return "STATE_NOT_WRITE_CRC"
	}
	if !f.buf.push(byte(crc)) || !f.buf.push(byte(crc >> 8)) {
		return "FAILED_CRC_WRITE"
	}
	f.state = StateFinal
	if CRC16(f.buf.span()) != 0 {
		return InvalidCRC
	}
	return OK
}

// writeChecksumByte writes a single CRC byte at a time, as used while
// streaming in an inbound frame.
func (f *Frame) writeChecksumByte(b byte) Tag {
	if f.state != StateWriteCRC0 && f.state != StateWriteCRC1 {
		return "STATE_NOT_WRITE_CRC"
	}
	if !f.buf.push(b) {
		return "FAILED_CRC_WRITE"
	}
	if f.state == StateWriteCRC0 {
		f.state = StateWriteCRC1
	} else {
		f.state = StateFinal
	}
	if f.state == StateFinal && CRC16(f.buf.span()) != 0 {
		return InvalidCRC
	}
	return OK
}

// setTCPLength patches the MBAP length field once the frame is complete:
// total bytes written minus the 6-byte header (= unit id + fc + payload).
func (f *Frame) setTCPLength() {
	n := uint16(f.buf.size - 6)
	f.buf.data[4] = byte(n >> 8)
	f.buf.data[5] = byte(n)
}

func (f *Frame) tcpTransactionID() uint16 {
	return uint16(f.buf.data[0])<<8 | uint16(f.buf.data[1])
}

func (f *Frame) tcpDeclaredLength() uint16 {
	return uint16(f.buf.data[4])<<8 | uint16(f.buf.data[5])
}

// writeTCPHeaderByte accumulates one of the 6 raw MBAP header bytes
// (transaction id, protocol id, length placeholder) before the frame
// state machine starts at WRITE_ADDR. Returns the resulting Tag and
// whether the header is now complete.
func (f *Frame) writeTCPHeaderByte(b byte) (tag Tag, headerDone bool) {
	if f.buf.size >= 6 {
		return FatalTooLargeSizeForTCPHeader, false
	}
	if !f.buf.push(b) {
		return "ERR_WRITE_TCP_HEADER", false
	}
	if f.buf.size == 6 {
		f.hasTCPHeader = true
		f.transport = TransportTCP
		f.state = StateWriteAddr
		return InProgress, true
	}
	return InProgress, false
}

// ---------------------------------------------------------------------
// Parser path.
// ---------------------------------------------------------------------

// process advances the state machine by one inbound byte. It is used for
// every transport once any transport-specific envelope bytes (the TCP
// MBAP header) have already been consumed.
func (f *Frame) process(b byte) Tag {
	switch f.state {
	case StateAwaitAddrOrMBAP, StateWriteAddr:
		return f.writeAddr(b)
	case StateWriteFC:
		return f.recvFC(b)
	case StateWriteLength:
		return f.writeLength(b)
	case StateWriteDataOrEC:
		if f.kind.exception {
			return f.writeEC(b)
		}
		return f.writeData(b)
	case StateWriteData:
		return f.writeData(b)
	case StateWriteCRC0, StateWriteCRC1:
		return f.writeChecksumByte(b)
	case StateFinal:
		return NoWriteInFinalState
	}
	return "INVALID_STATE"
}
