package modbus

import (
	"log"
	"net"

	"github.com/GoAethereal/cancel"
)

// Config configures a modbus Client or Server.
type Config struct {
	// Mode defines the PDU framing used on top of the byte stream.
	// Valid modes are:
	//	- tcp	(MBAP header, no CRC)
	//	- rtu	(no header, CRC-16/Modbus trailer)
	// ascii framing is reserved and is rejected by Verify.
	Mode string
	// Kind specifies the underlying network transport.
	// Valid kinds are:
	//	- tcp	(rtu framing run over a TCP byte stream is the common
	//		 "Modbus RTU over TCP gateway" pattern)
	Kind string
	// Endpoint used for connecting to (client) or listening on (server).
	Endpoint string
	// UnitID used by a Client as the default request address.
	UnitID byte
}

// Verify validates the Config, returning ErrInvalidParameter if Mode or
// Kind name something unsupported.
func (cfg *Config) Verify() error {
	switch cfg.Mode {
	case "tcp", "rtu":
	default:
		return ErrInvalidParameter
	}

	switch cfg.Kind {
	case "tcp":
	default:
		return ErrInvalidParameter
	}

	return nil
}

// connection dials a new connection as described by the configuration.
func (cfg Config) connection(ctx cancel.Context) (connection, error) {
	switch cfg.Kind {
	case "tcp":
		dctx, dcancel := cancel.Promote(ctx)
		defer dcancel()
		conn, err := new(net.Dialer).DialContext(dctx, cfg.Kind, cfg.Endpoint)
		if err != nil {
			log.Println("modbus: connection failed:", err)
			return nil, err
		}
		c := &network{mu: make(mutex, 2), conn: conn}
		c.mu.unlock()
		return c, nil
	}
	return nil, ErrInvalidParameter
}

// listen creates a new listener on the configured endpoint. If
// successful an acceptor function is returned; the function blocks until
// a new connection is established or an error occurs.
func (cfg Config) listen(ctx cancel.Context) (fn func() (connection, error), err error) {
	switch cfg.Kind {
	case "tcp":
		l, err := net.Listen(cfg.Kind, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			l.Close()
		}()
		fn = func() (connection, error) {
			conn, err := l.Accept()
			if err != nil {
				return nil, err
			}
			c := &network{mu: make(mutex, 2), conn: conn}
			c.mu.unlock()
			return c, nil
		}
	default:
		return nil, ErrInvalidParameter
	}
	return fn, nil
}
