// Command modbus-tcp-server serves the demolayout register map over
// Modbus TCP, updating the line-frequency and power fields once a
// second so a client has something to observe.
//
// Grounded on original_source/examples/modbus-tcp-linux-server.cpp.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"time"

	modbus "github.com/Lachei/libmodbus-static"
	"github.com/Lachei/libmodbus-static/internal/demolayout"
)

func main() {
	port := flag.String("port", "1502", "TCP port to listen on")
	unitID := flag.Uint("unit", 1, "Modbus unit id this server answers to")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	layout := demolayout.New()

	srv := &modbus.Server{
		Config: modbus.Config{
			Mode:     "tcp",
			Kind:     "tcp",
			Endpoint: ":" + *port,
		},
		Layout: layout,
		UnitID: byte(*unitID),
	}

	go simulate(ctx, layout)

	log.Printf("modbus-tcp-server: listening on :%s (unit %d)", *port, *unitID)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("modbus-tcp-server: %v", err)
	}
}

// simulate drives the meter's hz/w fields with a plausible-looking
// waveform so the server has moving data for a client to read.
func simulate(ctx context.Context, layout *modbus.Layout) {
	hz := demolayout.Hz(layout)
	w := demolayout.Watts(layout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var t float64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t += 1
			hz.Set(float32(50 + 0.02*math.Sin(t/5)))
			w.Set(float32(1000 + 200*math.Sin(t/3)))
		}
	}
}
