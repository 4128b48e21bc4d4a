package modbus

import "sync"

// lastCompleted is a snapshot of the most recently completed frame,
// kept so a client can validate an inbound response against the
// request that provoked it, and so a server can build a response from
// the request that is about to be overwritten in the shared Frame.
//
// Grounded on original_source/include/modbus-register.h's
// last_completed struct and get_last_completed().
type lastCompleted struct {
	transport Transport
	tcpTxnID  uint16
	addr      byte
	fc        FunctionCode
	exception bool
	header0   uint16 // reg offset (the coil/register address for single writes)
	header1   uint16 // reg count (the written value for single writes)
	crc       uint16

	payload    [253]byte
	payloadLen int
}

func (l *lastCompleted) setPayload(b []byte) {
	l.payloadLen = copy(l.payload[:], b)
}

func (l lastCompleted) payloadSpan() []byte { return l.payload[:l.payloadLen] }

// Engine wraps a Layout with a single reusable Frame and the lc
// snapshot, implementing both the client (Addr == 0) and server
// (Addr != 0) sides of the protocol over one of RTU/TCP/ASCII.
//
// Grounded on original_source/include/modbus-register.h's
// modbus_register<Layout, MAX_SIZE>.
type Engine struct {
	Layout *Layout
	// Addr is this engine's own unit address. Zero means client
	// semantics (no fixed address, validates responses via lc);
	// non-zero means server semantics (only responds to frames
	// addressed to Addr).
	Addr byte

	frame    Frame
	lc       lastCompleted
	tcpTxnID uint16
}

// NewEngine constructs an Engine bound to layout, acting as a client
// when addr == 0 or as a server listening on unit addr otherwise.
func NewEngine(layout *Layout, addr byte) *Engine {
	e := &Engine{Layout: layout, Addr: addr}
	e.frame.clear()
	return e
}

// nextTransactionID returns a fresh MBAP transaction id, wrapping at
// 0xFFFF. A client uses this to tag each outstanding TCP request.
func (e *Engine) nextTransactionID() uint16 {
	e.tcpTxnID++
	return e.tcpTxnID
}

var (
	defaultEngines   = map[string]*Engine{}
	defaultEnginesMu sync.Mutex
)

// Default returns a process-wide Engine registered under name,
// constructing it with layout/addr on first use. It is an opt-in
// convenience — nothing in this package uses it implicitly.
func Default(name string, layout *Layout, addr byte) *Engine {
	defaultEnginesMu.Lock()
	defer defaultEnginesMu.Unlock()
	if e, ok := defaultEngines[name]; ok {
		return e
	}
	e := NewEngine(layout, addr)
	defaultEngines[name] = e
	return e
}

// CurrentFrame returns the bytes assembled or parsed so far, valid
// until the next Start*Frame/Process*/clear.
func (e *Engine) CurrentFrame() []byte { return e.frame.span() }

// ---------------------------------------------------------------------
// Client: start building a request.
// ---------------------------------------------------------------------

// StartRTUFrame begins a new RTU request addressed to addr.
func (e *Engine) StartRTUFrame(addr byte) Tag {
	e.frame.clear()
	e.frame.kind = frameKind{request: true}
	return e.frame.writeAddr(addr)
}

// StartTCPFrame begins a new TCP request addressed to addr, tagged with
// transaction id tid.
func (e *Engine) StartTCPFrame(addr byte, tid uint16) Tag {
	e.frame.clear()
	e.frame.kind = frameKind{request: true}
	if tag := e.frame.writeMBAP(tid); tag != OK {
		return tag
	}
	return e.frame.writeAddr(addr)
}

// StartASCIIFrame is reserved; ASCII transport framing is not completed.
func (e *Engine) StartASCIIFrame(addr byte) Tag {
	return NotImplemented
}

func (e *Engine) finishBuild() Tag {
	if e.frame.isTCP() {
		e.frame.setTCPLength()
		e.frame.state = StateFinal
		return OK
	}
	crc := CRC16(e.frame.span())
	return e.frame.writeChecksum16(crc)
}

func (e *Engine) recordLC() {
	f := &e.frame
	lc := lastCompleted{
		transport: f.transport,
		addr:      f.buf.data[f.addrIdx],
		fc:        f.fc(),
		exception: f.kind.exception,
	}
	if f.hasTCPHeader {
		lc.tcpTxnID = f.tcpTransactionID()
	}
	if f.dataIdx != noIdx && f.dataIdx+4 <= f.buf.size {
		lc.header0 = uint16(f.buf.data[f.dataIdx])<<8 | uint16(f.buf.data[f.dataIdx+1])
		lc.header1 = uint16(f.buf.data[f.dataIdx+2])<<8 | uint16(f.buf.data[f.dataIdx+3])
	}
	if f.dataIdx != noIdx {
		end := f.buf.size
		if f.isRTU() {
			end -= 2
		}
		lc.setPayload(f.buf.data[f.dataIdx:end])
	}
	e.lc = lc
}

// ---------------------------------------------------------------------
// Client: read/write request builders.
// ---------------------------------------------------------------------

func readFC(space RegisterSpace) FunctionCode {
	switch space {
	case SpaceCoils:
		return FCReadCoils
	case SpaceDiscreteInputs:
		return FCReadDiscreteInputs
	case SpaceHoldingRegisters:
		return FCReadHoldingRegisters
	default:
		return FCReadInputRegisters
	}
}

// GetFrameRead builds a read request for a halfs field range.
func (e *Engine) GetFrameRead(ref FieldRef) Tag {
	if ref.Space == SpaceCoils || ref.Space == SpaceDiscreteInputs {
		return BitsNotAllowed
	}
	if tag := e.frame.writeFC(readFC(ref.Space)); tag != OK {
		return tag
	}
	if tag := e.frame.writeDataBytes(be16(ref.RegOffset)); tag != OK {
		return tag
	}
	if tag := e.frame.writeDataBytes(be16(ref.RegCount)); tag != OK {
		return tag
	}
	if tag := e.finishBuild(); tag != OK {
		return tag
	}
	e.recordLC()
	return OK
}

// GetFrameReadBits builds a read request for a bits range.
func (e *Engine) GetFrameReadBits(ref BitRef) Tag {
	if ref.Space != SpaceCoils && ref.Space != SpaceDiscreteInputs {
		return HalfsNotAllowed
	}
	sub := e.Layout.sub(ref.Space)
	regOffset := sub.Offset + uint16(ref.StartBit)
	regCount := uint16(ref.count())
	if tag := e.frame.writeFC(readFC(ref.Space)); tag != OK {
		return tag
	}
	if tag := e.frame.writeDataBytes(be16(regOffset)); tag != OK {
		return tag
	}
	if tag := e.frame.writeDataBytes(be16(regCount)); tag != OK {
		return tag
	}
	if tag := e.finishBuild(); tag != OK {
		return tag
	}
	e.recordLC()
	return OK
}

// GetFrameWrite builds a write request for a halfs field range: FC 6
// when it covers a single register, FC 16 otherwise. data must be
// exactly ref.RegCount*2 bytes, already in wire (big-endian) order.
func (e *Engine) GetFrameWrite(ref FieldRef, data []byte) Tag {
	switch ref.Space {
	case SpaceCoils, SpaceDiscreteInputs:
		return BitsNotAllowed
	case SpaceHoldingRegisters:
		return HalfsNotAllowed
	}
	if len(data) != int(ref.RegCount)*2 {
		return MissingDataInFrame
	}
	if ref.RegCount == 1 {
		if tag := e.frame.writeFC(FCWriteSingleRegister); tag != OK {
			return tag
		}
		if tag := e.frame.writeDataBytes(be16(ref.RegOffset)); tag != OK {
			return tag
		}
		if tag := e.frame.writeDataBytes(data); tag != OK {
			return tag
		}
	} else {
		if tag := e.frame.writeFC(FCWriteMultipleRegisters); tag != OK {
			return tag
		}
		if tag := e.frame.writeDataBytes(be16(ref.RegOffset)); tag != OK {
			return tag
		}
		if tag := e.frame.writeDataBytes(be16(ref.RegCount)); tag != OK {
			return tag
		}
		if tag := e.frame.writeData(byte(len(data))); tag != OK {
			return tag
		}
		if tag := e.frame.writeDataBytes(data); tag != OK {
			return tag
		}
	}
	if tag := e.finishBuild(); tag != OK {
		return tag
	}
	e.recordLC()
	return OK
}

// GetFrameWriteBit builds a single-coil write request (FC 5).
func (e *Engine) GetFrameWriteBit(bit Bit, value bool) Tag {
	if bit.ref.Space != SpaceCoils && bit.ref.Space != SpaceDiscreteInputs {
		return HalfsNotAllowed
	}
	sub := e.Layout.sub(bit.ref.Space)
	regOffset := sub.Offset + uint16(bit.ref.StartBit)
	if tag := e.frame.writeFC(FCWriteSingleCoil); tag != OK {
		return tag
	}
	if tag := e.frame.writeDataBytes(be16(regOffset)); tag != OK {
		return tag
	}
	on := byte(0x00)
	if value {
		on = 0xFF
	}
	if tag := e.frame.writeData(on); tag != OK {
		return tag
	}
	if tag := e.frame.writeData(0x00); tag != OK {
		return tag
	}
	if tag := e.finishBuild(); tag != OK {
		return tag
	}
	e.recordLC()
	return OK
}

// GetFrameWriteBits builds a write-multiple-coils request (FC 15) for
// the ref.count() bits of ref, taking their values from bits
// (wire-packed, LSB first), which must be exactly byteCountForBits of
// that count long.
func (e *Engine) GetFrameWriteBits(ref BitRef, bits []byte) Tag {
	if ref.Space != SpaceCoils && ref.Space != SpaceDiscreteInputs {
		return HalfsNotAllowed
	}
	sub := e.Layout.sub(ref.Space)
	regOffset := sub.Offset + uint16(ref.StartBit)
	regCount := uint16(ref.count())
	byteCount := byteCountForBits(int(regCount))
	if len(bits) != byteCount {
		return MissingDataInFrame
	}
	if tag := e.frame.writeFC(FCWriteMultipleCoils); tag != OK {
		return tag
	}
	if tag := e.frame.writeDataBytes(be16(regOffset)); tag != OK {
		return tag
	}
	if tag := e.frame.writeDataBytes(be16(regCount)); tag != OK {
		return tag
	}
	if tag := e.frame.writeData(byte(byteCount)); tag != OK {
		return tag
	}
	if tag := e.frame.writeDataBytes(bits); tag != OK {
		return tag
	}
	if tag := e.finishBuild(); tag != OK {
		return tag
	}
	e.recordLC()
	return OK
}

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

// ---------------------------------------------------------------------
// Client: response ingestion.
// ---------------------------------------------------------------------

// BeginResponse must be called once a request has been written to the
// wire and before feeding the reply's bytes into ProcessRTU/ProcessTCP;
// it flips the shared Frame into response-parsing mode.
func (e *Engine) BeginResponse() {
	e.frame.clear()
	e.frame.kind = frameKind{response: true}
}

// Reset discards whatever is currently held in the shared Frame (a built
// response that has since been sent, or a partially parsed frame that
// the caller wants to abandon) and returns it to request-parsing mode,
// ready for the next inbound byte. A server actor calls this once a
// built response has been fully written to the wire.
func (e *Engine) Reset() {
	e.frame.clear()
}

// ProcessRTU feeds one byte of an inbound RTU frame (a response when
// Addr == 0, a request when Addr != 0).
func (e *Engine) ProcessRTU(b byte) Tag {
	return e.afterByte(e.frame.process(b))
}

// ProcessASCII is reserved; ASCII transport is never completed.
func (e *Engine) ProcessASCII(b byte) Tag {
	return NotImplemented
}

// ProcessTCP feeds one byte of an inbound TCP stream, accumulating the
// 6-byte MBAP header before handing subsequent bytes to the shared
// state machine, and enforcing the MBAP-declared length.
func (e *Engine) ProcessTCP(b byte) Tag {
	f := &e.frame
	if !f.hasTCPHeader && f.state == StateAwaitAddrOrMBAP {
		tag, done := f.writeTCPHeaderByte(b)
		if tag != InProgress {
			f.clear()
			return tag
		}
		if done {
			return InProgress
		}
		return InProgress
	}
	if !f.hasTCPHeader {
		f.clear()
		return FatalMissingTCPHeaderInFrame
	}
	if f.buf.size >= int(f.tcpDeclaredLength())+6 {
		f.clear()
		return FatalTCPFrameLengthFull
	}
	return e.afterByte(f.process(b))
}

func (e *Engine) afterByte(raw Tag) Tag {
	f := &e.frame
	if raw != OK && raw != InvalidCRC {
		f.clear()
		return raw
	}
	if f.state != StateFinal {
		return InProgress
	}
	if raw == InvalidCRC {
		f.clear()
		return InvalidCRC
	}
	return e.finalize()
}

func (e *Engine) finalize() Tag {
	if e.Addr == 0 {
		return e.finalizeClient()
	}
	return e.finalizeServer()
}

func (e *Engine) finalizeClient() Tag {
	f := &e.frame
	respAddr := f.buf.data[f.addrIdx]
	respFC := f.fc()
	var respHeader0, respHeader1 uint16
	if f.dataIdx != noIdx && f.dataIdx+4 <= f.buf.size {
		respHeader0 = uint16(f.buf.data[f.dataIdx])<<8 | uint16(f.buf.data[f.dataIdx+1])
		respHeader1 = uint16(f.buf.data[f.dataIdx+2])<<8 | uint16(f.buf.data[f.dataIdx+3])
	}

	if f.kind.exception {
		f.clear()
		return ResponseFromServerInvalid
	}

	if e.lc.transport == TransportTCP && f.tcpTransactionID() != e.lc.tcpTxnID {
		f.clear()
		return MismatchedTransactionID
	}

	valid := true
	isBit := false
	switch e.lc.fc {
	case FCWriteSingleCoil, FCWriteSingleRegister:
		valid = respAddr == e.lc.addr && respFC == e.lc.fc &&
			respHeader0 == e.lc.header0 && respHeader1 == e.lc.header1
	case FCReadCoils, FCReadDiscreteInputs:
		isBit = true
		fallthrough
	case FCReadHoldingRegisters, FCReadInputRegisters:
		valid = respAddr == e.lc.addr && respFC == e.lc.fc
		if valid {
			byteCount := int(f.buf.data[f.byteCountIdx])
			if isBit {
				valid = byteCount == byteCountForBits(int(e.lc.header1))
			} else {
				valid = byteCount == int(e.lc.header1)*2
			}
		}
	}
	if !valid {
		f.clear()
		return ResponseFromServerInvalid
	}

	regOffset, regCount := e.lc.header0, e.lc.header1
	var data []byte
	if f.byteCountIdx != noIdx {
		data = f.buf.data[f.byteCountIdx+1 : f.byteCountIdx+1+int(f.buf.data[f.byteCountIdx])]
	}

	var tag Tag = OK
	switch e.lc.fc {
	case FCReadCoils:
		sub := e.Layout.Coils
		if sub == nil {
			tag = LayoutHasNoBits
		} else if t := isBitCovered(sub, int(regOffset-sub.Offset), int(regCount)); t != OK {
			tag = t
		} else {
			writeBitsToStorage(sub, int(regOffset-sub.Offset), int(regCount), data)
		}
	case FCReadDiscreteInputs:
		sub := e.Layout.DiscreteInputs
		if sub == nil {
			tag = LayoutHasNoWriteBits
		} else if t := isBitCovered(sub, int(regOffset-sub.Offset), int(regCount)); t != OK {
			tag = t
		} else {
			writeBitsToStorage(sub, int(regOffset-sub.Offset), int(regCount), data)
		}
	case FCReadHoldingRegisters:
		sub := e.Layout.HoldingRegisters
		if sub == nil {
			tag = LayoutHasNoHalfs
		} else if t := isRegisterCovered(sub, regOffset, regCount); t != OK {
			tag = t
		} else {
			copy(sub.Data[int(regOffset-sub.Offset)*2:], data)
		}
	case FCReadInputRegisters:
		sub := e.Layout.InputRegisters
		if sub == nil {
			tag = LayoutHasNoWriteHalfs
		} else if t := isRegisterCovered(sub, regOffset, regCount); t != OK {
			tag = t
		} else {
			copy(sub.Data[int(regOffset-sub.Offset)*2:], data)
		}
	}
	if tag != OK {
		f.clear()
		return tag
	}
	e.recordLC()
	return OK
}

func (e *Engine) finalizeServer() Tag {
	f := &e.frame
	addr := f.buf.data[f.addrIdx]
	if addr != e.Addr {
		f.clear()
		return WrongAddr
	}
	e.recordLC()
	return e.applyServerWrite()
}

// applyServerWrite carries out the write side-effect of an inbound write
// request against the bound Layout, using the just-recorded lc snapshot.
// Read requests have no side effect here; their data is pulled straight
// out of the Layout when GetFrameResponse builds the reply.
//
// Grounded on original_source/include/modbus-register.h's _process()
// write-application branch.
func (e *Engine) applyServerWrite() Tag {
	regOffset, regCount := e.lc.header0, e.lc.header1
	switch e.lc.fc {
	case FCWriteSingleCoil:
		sub := e.Layout.DiscreteInputs
		if sub == nil {
			return LayoutHasNoWriteBits
		}
		bitIdx := int(regOffset - sub.Offset)
		if t := isBitCovered(sub, bitIdx, 1); t != OK {
			return t
		}
		byteIdx, bit := bitIdx/8, uint(bitIdx%8)
		if (e.lc.header1 >> 8) != 0 {
			sub.Data[byteIdx] |= 1 << bit
		} else {
			sub.Data[byteIdx] &^= 1 << bit
		}
	case FCWriteSingleRegister:
		sub := e.Layout.InputRegisters
		if sub == nil {
			return LayoutHasNoWriteHalfs
		}
		if t := isRegisterCovered(sub, regOffset, 1); t != OK {
			return t
		}
		copy(sub.Data[int(regOffset-sub.Offset)*2:], be16(e.lc.header1))
	case FCWriteMultipleCoils:
		sub := e.Layout.Coils
		if sub == nil {
			return LayoutHasNoBits
		}
		if t := isBitCovered(sub, int(regOffset-sub.Offset), int(regCount)); t != OK {
			return t
		}
		payload := e.lc.payloadSpan()
		if len(payload) < 5 {
			return MissingDataInFrame
		}
		writeBitsToStorage(sub, int(regOffset-sub.Offset), int(regCount), payload[5:])
	case FCWriteMultipleRegisters:
		sub := e.Layout.InputRegisters
		if sub == nil {
			return LayoutHasNoWriteHalfs
		}
		if t := isRegisterCovered(sub, regOffset, regCount); t != OK {
			return t
		}
		payload := e.lc.payloadSpan()
		if len(payload) < 5 {
			return MissingDataInFrame
		}
		copy(sub.Data[int(regOffset-sub.Offset)*2:], payload[5:])
	}
	return OK
}

// ---------------------------------------------------------------------
// Server: response builders.
// ---------------------------------------------------------------------

// beginServerResponse resets the shared Frame into a fresh response (or
// exception response) addressed and transaction-tagged per the just
// completed request's lc snapshot.
func (e *Engine) beginServerResponse(exception bool) Tag {
	f := &e.frame
	f.clear()
	f.kind = frameKind{response: true, exception: exception}
	var tag Tag
	switch e.lc.transport {
	case TransportTCP:
		tag = f.writeMBAP(e.lc.tcpTxnID)
	case TransportASCII:
		tag = f.writeASCIIStart()
	default:
		tag = OK
	}
	if tag != OK {
		return tag
	}
	if tag := f.writeAddr(e.lc.addr); tag != OK {
		return tag
	}
	return f.writeFC(e.lc.fc)
}

// GetFrameResponse builds the normal reply to the most recently completed
// request recorded in lc, reading (for read FCs) or echoing (for write
// FCs) straight out of the bound Layout.
//
// Grounded on original_source/include/modbus-register.h's
// get_frame_response().
func (e *Engine) GetFrameResponse() Tag {
	if tag := e.beginServerResponse(false); tag != OK {
		return tag
	}
	f := &e.frame
	regOffset, regCount := e.lc.header0, e.lc.header1

	readBits := func(sub *SubAggregate, missing Tag) Tag {
		if sub == nil {
			return missing
		}
		if t := isBitCovered(sub, int(regOffset-sub.Offset), int(regCount)); t != OK {
			return t
		}
		n := byteCountForBits(int(regCount))
		if t := f.writeLength(byte(n)); t != OK {
			return t
		}
		start, t := f.writeDataZeros(n)
		if t != OK {
			return t
		}
		readBitsFromStorage(sub, int(regOffset-sub.Offset), int(regCount), f.buf.data[start:start+n])
		return OK
	}
	readHalfs := func(sub *SubAggregate, missing Tag) Tag {
		if sub == nil {
			return missing
		}
		if t := isRegisterCovered(sub, regOffset, regCount); t != OK {
			return t
		}
		n := int(regCount) * 2
		if t := f.writeLength(byte(n)); t != OK {
			return t
		}
		byteStart := int(regOffset-sub.Offset) * 2
		return f.writeDataBytes(sub.Data[byteStart : byteStart+n])
	}

	var tag Tag
	switch e.lc.fc {
	case FCReadCoils:
		tag = readBits(e.Layout.Coils, LayoutHasNoBits)
	case FCReadDiscreteInputs:
		tag = readBits(e.Layout.DiscreteInputs, LayoutHasNoWriteBits)
	case FCReadHoldingRegisters:
		tag = readHalfs(e.Layout.HoldingRegisters, LayoutHasNoHalfs)
	case FCReadInputRegisters:
		tag = readHalfs(e.Layout.InputRegisters, LayoutHasNoWriteHalfs)
	case FCWriteSingleCoil, FCWriteSingleRegister, FCWriteMultipleCoils, FCWriteMultipleRegisters:
		if t := f.writeDataBytes(be16(regOffset)); t != OK {
			tag = t
		} else {
			tag = f.writeDataBytes(be16(regCount))
		}
	default:
		tag = NotImplemented
	}
	if tag != OK {
		return tag
	}
	return e.finishBuild()
}

// GetFrameErrorResponse builds an exception reply to the most recently
// completed request, selecting the Modbus exception code from err.
//
// Grounded on original_source/include/modbus-register.h's
// get_frame_error_response().
func (e *Engine) GetFrameErrorResponse(err Tag) Tag {
	if tag := e.beginServerResponse(true); tag != OK {
		return tag
	}
	if tag := e.frame.writeEC(exceptionFromTag(err).Code()); tag != OK {
		return tag
	}
	return e.finishBuild()
}
