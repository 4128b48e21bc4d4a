package modbus

import (
	"context"
	"net"
	"testing"

	"github.com/GoAethereal/cancel"
)

// TestClientServerRoundTripOverPipe drives a Client and a Server over a
// net.Pipe, the way cmd/modbus-tcp-client/cmd/modbus-tcp-server would
// over a real socket. It exists to catch defects in the transport/actor
// layer (roundTrip, the connection read pump) that Engine-level tests
// never touch.
func TestClientServerRoundTripOverPipe(t *testing.T) {
	clientLayout := newTestLayout()
	serverLayout := newTestLayout()
	NewTypedField[uint16](serverLayout.HoldingRegisters, 0).Set(6) // r1
	NewTypedField[uint16](serverLayout.HoldingRegisters, 2).Set(5) // r2

	clientConn, serverConn := net.Pipe()

	client := &Client{
		Config: Config{Mode: "tcp", Kind: "tcp", UnitID: 1},
		Layout: clientLayout,
		c:      &network{mu: make(mutex, 2), conn: clientConn},
	}
	client.c.(*network).mu.unlock()
	go client.c.read(context.Background(), make([]byte, 260))
	defer client.Disconnect()

	srv := &Server{Config: Config{Mode: "tcp", Kind: "tcp"}, Layout: serverLayout, UnitID: 1}
	sc := &network{mu: make(mutex, 2), conn: serverConn}
	sc.mu.unlock()
	go srv.handle(context.Background(), sc)

	ctx := cancel.New()
	ref, err := FieldRange(halfsField(clientLayout.HoldingRegisters, 0), halfsField(clientLayout.HoldingRegisters, 1))
	if err != nil {
		t.Fatalf("FieldRange: %v", err)
	}
	if err := client.ReadHalfs(ctx, ref); err != nil {
		t.Fatalf("ReadHalfs: %v", err)
	}

	r1 := NewTypedField[uint16](clientLayout.HoldingRegisters, 0)
	r2 := NewTypedField[uint16](clientLayout.HoldingRegisters, 2)
	if got := r1.Get(); got != 6 {
		t.Errorf("r1 = %d, want 6", got)
	}
	if got := r2.Get(); got != 5 {
		t.Errorf("r2 = %d, want 5", got)
	}
}
