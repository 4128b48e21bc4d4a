// Command modbus-tcp-client connects to a Modbus TCP server and polls
// the demolayout register map once a second, printing the line
// frequency and power fields it reads back.
//
// Grounded on original_source/examples/modbus-tcp-linux-client.cpp.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/GoAethereal/cancel"

	modbus "github.com/Lachei/libmodbus-static"
	"github.com/Lachei/libmodbus-static/internal/demolayout"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:1502", "server address to dial")
	unitID := flag.Uint("unit", 1, "unit id the server answers to")
	flag.Parse()

	root := cancel.New()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		root.Cancel()
	}()

	layout := demolayout.New()
	hz := demolayout.Hz(layout)
	w := demolayout.Watts(layout)

	client := &modbus.Client{
		Config: modbus.Config{
			Mode:     "tcp",
			Kind:     "tcp",
			Endpoint: *addr,
			UnitID:   byte(*unitID),
		},
		Layout: layout,
	}
	defer client.Disconnect()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-root.Done():
			return
		case <-ticker.C:
			if err := client.ReadHalfs(root, demolayout.Range(layout)); err != nil {
				log.Printf("modbus-tcp-client: read: %v", err)
				continue
			}
			log.Printf("hz=%.3f watts=%.1f", hz.Get(), w.Get())
		}
	}
}
