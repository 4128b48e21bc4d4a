package modbus

import "testing"

func TestExceptionFromTag(t *testing.T) {
	cases := []struct {
		tag  Tag
		want Exception
	}{
		{RegisterNotFullyCovered, ExIllegalDataAddress},
		{BitsNotFullyCovered, ExIllegalDataAddress},
		{InvalidFunctionCode, ExIllegalFunction},
		{HalfsNotAllowed, ExIllegalFunction},
		{MissingDataInFrame, ExIllegalDataValue},
		{Tag("SOMETHING_UNMAPPED"), ExSlaveDeviceFailure},
	}
	for _, c := range cases {
		if got := exceptionFromTag(c.tag); got.Code() != c.want.Code() {
			t.Errorf("exceptionFromTag(%q) code = %#02x, want %#02x", c.tag, got.Code(), c.want.Code())
		}
	}
}

func TestGetFrameErrorResponseOutOfRange(t *testing.T) {
	clientLayout := newTestLayout()
	serverLayout := newTestLayout()
	client := NewEngine(clientLayout, 0)
	server := NewEngine(serverLayout, 1)

	if tag := client.StartRTUFrame(1); tag != OK {
		t.Fatalf("StartRTUFrame: %q", tag)
	}
	// a request the client is willing to build but the server's layout
	// cannot satisfy: holding registers offset 10, 2 registers, against a
	// 4-register (offset 0) space.
	ref := FieldRef{Space: SpaceHoldingRegisters, RegOffset: 10, RegCount: 2}
	if tag := client.GetFrameRead(ref); tag != OK {
		t.Fatalf("GetFrameRead: %q", tag)
	}
	req := append([]byte(nil), client.CurrentFrame()...)

	feedRTU(t, server, req, OK)
	tag := server.GetFrameResponse()
	if tag != RegisterNotFullyCovered {
		t.Fatalf("GetFrameResponse = %q, want %q", tag, RegisterNotFullyCovered)
	}
	if tag := server.GetFrameErrorResponse(tag); tag != OK {
		t.Fatalf("GetFrameErrorResponse: %q", tag)
	}
	resp := server.CurrentFrame()
	if len(resp) != 5 {
		t.Fatalf("exception response length = %d, want 5", len(resp))
	}
	if resp[0] != 1 {
		t.Fatalf("resp[0] (addr) = %d, want 1", resp[0])
	}
	if resp[1] != byte(FCReadHoldingRegisters)|0x80 {
		t.Fatalf("resp[1] (fc|0x80) = %#02x, want %#02x", resp[1], byte(FCReadHoldingRegisters)|0x80)
	}
	if resp[2] != ExIllegalDataAddress.Code() {
		t.Fatalf("resp[2] (exception code) = %#02x, want %#02x", resp[2], ExIllegalDataAddress.Code())
	}
	if crc := CRC16(resp); crc != 0 {
		t.Fatalf("CRC16(resp) = %#04x, want 0", crc)
	}
}
