package modbus

import (
	"context"
	"net"
	"sync"
)

// Server is the go implementation of a modbus slave. It listens for
// inbound connections, streams each one through an Engine bound to
// Layout and addressed to UnitID, and writes back whatever response the
// Engine builds.
//
// Generally the intended use is as follows:
//
//	s := modbus.Server{Config: modbus.Config{
//		Mode:     "tcp",
//		Kind:     "tcp",
//		Endpoint: "localhost:502",
//	}, Layout: &layout, UnitID: 1}
//
//	log.Fatal(s.Serve(ctx))
type Server struct {
	Config
	// Layout describes the registers this server exposes.
	Layout *Layout
	// UnitID is the address this server answers to.
	UnitID byte

	mu sync.Mutex
}

// Serve starts the modbus server and listens for inbound requests until
// ctx is canceled. It returns early only if the Config fails Verify or
// the listener cannot be opened; a failed Accept is skipped and the loop
// keeps accepting.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Config.Verify(); err != nil {
		return err
	}

	l, err := net.Listen(s.Config.Kind, s.Config.Endpoint)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		l.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
			conn, err := l.Accept()
			if err != nil {
				continue
			}
			wg.Add(1)
			go func(conn net.Conn) {
				defer wg.Done()
				c := &network{mu: make(mutex, 2), conn: conn}
				c.mu.unlock()
				s.handle(ctx, c)
			}(conn)
		}
	}
}

// handle drives one accepted connection: every received byte is fed into
// a fresh Engine; once a request completes, the matching (or exception)
// response is built and written back.
func (s *Server) handle(ctx context.Context, c connection) {
	defer c.close()
	e := NewEngine(s.Layout, s.UnitID)

	_, wait := c.listen(ctx, func(adu []byte, err error) (quit bool) {
		if err != nil {
			return true
		}
		for _, b := range adu {
			var tag Tag
			if s.Config.Mode == "tcp" {
				tag = e.ProcessTCP(b)
			} else {
				tag = e.ProcessRTU(b)
			}
			if tag == InProgress {
				continue
			}
			if tag == WrongAddr || tag == InvalidCRC {
				// Not ours, or unrecoverable framing error: drop silently
				// and keep listening for the next frame.
				e.Reset()
				continue
			}
			var respTag Tag
			if tag != OK {
				respTag = e.GetFrameErrorResponse(tag)
			} else {
				respTag = e.GetFrameResponse()
			}
			if respTag == OK {
				if werr := c.write(ctx, e.CurrentFrame()); werr != nil {
					return true
				}
			}
			e.Reset()
		}
		return false
	})

	c.read(ctx, make([]byte, 260))
	<-wait
}
