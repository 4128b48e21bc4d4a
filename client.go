package modbus

import (
	"context"
	"sync"

	"github.com/GoAethereal/cancel"
)

// Client is the go implementation of a modbus master. It pairs an Engine
// bound to a Layout describing the registers this master cares about
// with a connection to the remote unit. Read* build a request for a
// Layout field, round-trip it, and land the response straight back into
// the Layout; Write* send caller-supplied values and only validate the
// echoed reply, leaving the Layout unchanged.
//
// Generally the intended use is as follows:
//
//	c := modbus.Client{Config: modbus.Config{
//		Mode:     "tcp",
//		Kind:     "tcp",
//		Endpoint: "localhost:502",
//	}, Layout: &layout}
//	defer c.Disconnect()
//
//	err := c.ReadHalfs(ctx, modbus.NewField(layout.InputRegisters, 0, 2))
type Client struct {
	Config
	// Layout describes the registers this client mirrors locally. It is
	// shared with the Engine; Read*/Write* calls land their results here.
	Layout *Layout

	mtx sync.Mutex
	c   connection
	e   *Engine
}

// Disconnect shuts down the connection. Any request in flight is
// canceled as a result.
func (c *Client) Disconnect() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.c != nil {
		c.c.close()
	}
}

func (c *Client) init(ctx cancel.Context) (connection, *Engine, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err := c.Config.Verify(); err != nil {
		return nil, nil, err
	}
	var err error
	if c.c == nil {
		if c.c, err = c.Config.connection(ctx); err != nil {
			return nil, nil, err
		}
		// Pump the connection for its lifetime so listen callbacks
		// registered by roundTrip ever fire. Outlives any single
		// request's ctx; Disconnect's close() is what ends it.
		go c.c.read(context.Background(), make([]byte, 260))
	}
	if c.e == nil {
		c.e = NewEngine(c.Layout, 0)
	}
	return c.c, c.e, nil
}

// startFrame begins a new request addressed to uid using the transport
// named by Config.Mode.
func (c *Client) startFrame(e *Engine, uid byte) error {
	var tag Tag
	switch c.Config.Mode {
	case "tcp":
		tag = e.StartTCPFrame(uid, e.nextTransactionID())
	case "rtu":
		tag = e.StartRTUFrame(uid)
	default:
		return ErrInvalidParameter
	}
	if tag != OK {
		return tag
	}
	return nil
}

// roundTrip sends whatever request e currently holds, streams the reply
// back through e byte by byte, and returns once the response has been
// validated and written into the bound Layout (or an error/mismatch/
// connection failure occurs).
//
// Generalized from one-shot whole-ADU decode to the byte-streaming
// Engine.
func (c *Client) roundTrip(ctx cancel.Context, con connection, e *Engine) error {
	gctx, gcancel := cancel.Promote(ctx)
	defer gcancel()

	req := append([]byte(nil), e.CurrentFrame()...)
	e.BeginResponse()

	var callErr error
	_, wait := con.listen(gctx, func(adu []byte, rerr error) (quit bool) {
		if rerr != nil {
			callErr = rerr
			return true
		}
		for _, b := range adu {
			var tag Tag
			if c.Config.Mode == "tcp" {
				tag = e.ProcessTCP(b)
			} else {
				tag = e.ProcessRTU(b)
			}
			if tag == InProgress {
				continue
			}
			if tag != OK {
				callErr = tag
			}
			return true
		}
		return false
	})

	if err := con.write(gctx, req); err != nil {
		gcancel()
		<-wait
		return err
	}
	<-wait
	return callErr
}

// ReadHalfs reads the holding- or input-register field ref describes and
// stores the result in the bound Layout.
func (c *Client) ReadHalfs(ctx cancel.Context, ref FieldRef) error {
	con, e, err := c.init(ctx)
	if err != nil {
		return err
	}
	if err := c.startFrame(e, c.Config.UnitID); err != nil {
		return err
	}
	if tag := e.GetFrameRead(ref); tag != OK {
		return tag
	}
	return c.roundTrip(ctx, con, e)
}

// ReadBits reads the coil- or discrete-input range ref describes and
// stores the result in the bound Layout.
func (c *Client) ReadBits(ctx cancel.Context, ref BitRef) error {
	con, e, err := c.init(ctx)
	if err != nil {
		return err
	}
	if err := c.startFrame(e, c.Config.UnitID); err != nil {
		return err
	}
	if tag := e.GetFrameReadBits(ref); tag != OK {
		return tag
	}
	return c.roundTrip(ctx, con, e)
}

// WriteHalfs writes data (already in wire order) to the input-register
// field ref describes. Holding registers are not a write target: a ref
// in that space returns HalfsNotAllowed.
func (c *Client) WriteHalfs(ctx cancel.Context, ref FieldRef, data []byte) error {
	con, e, err := c.init(ctx)
	if err != nil {
		return err
	}
	if err := c.startFrame(e, c.Config.UnitID); err != nil {
		return err
	}
	if tag := e.GetFrameWrite(ref, data); tag != OK {
		return tag
	}
	return c.roundTrip(ctx, con, e)
}

// WriteBit writes a single coil/discrete-input bit.
func (c *Client) WriteBit(ctx cancel.Context, bit Bit, value bool) error {
	con, e, err := c.init(ctx)
	if err != nil {
		return err
	}
	if err := c.startFrame(e, c.Config.UnitID); err != nil {
		return err
	}
	if tag := e.GetFrameWriteBit(bit, value); tag != OK {
		return tag
	}
	return c.roundTrip(ctx, con, e)
}

// WriteBits writes a packed range of coil/discrete-input bits.
func (c *Client) WriteBits(ctx cancel.Context, ref BitRef, bits []byte) error {
	con, e, err := c.init(ctx)
	if err != nil {
		return err
	}
	if err := c.startFrame(e, c.Config.UnitID); err != nil {
		return err
	}
	if tag := e.GetFrameWriteBits(ref, bits); tag != OK {
		return tag
	}
	return c.roundTrip(ctx, con, e)
}
