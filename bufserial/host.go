//go:build !(rp2040 || rp2350)

package bufserial

import (
	"time"

	"go.bug.st/serial"

	"gsmlink-go/errcode"
)

// HostPort binds a ring Port to an operating-system serial device. Two pump
// goroutines stand in for the ISR side of the rings, so the SPSC contract per
// ring is preserved: one producer, one consumer each.
type HostPort struct {
	*Port
	dev  serial.Port
	done chan struct{}
}

// HostConfig tunes a host port; zero values select defaults.
type HostConfig struct {
	RXSize int
	TXSize int
	// PollInterval paces the TX pump when the ring is idle.
	PollInterval time.Duration // default 1ms
}

// OpenHost opens an OS serial device at the given baud rate and starts the RX
// and TX pumps.
func OpenHost(name string, baud int, cfg HostConfig) (*HostPort, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	dev, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, &errcode.E{C: errcode.LinkFailed, Op: "bufserial.OpenHost", Msg: name, Err: err}
	}
	// Bounded reads so the RX pump can notice Close.
	if err := dev.SetReadTimeout(20 * time.Millisecond); err != nil {
		dev.Close()
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "bufserial.OpenHost", Err: err}
	}

	h := &HostPort{
		Port: NewPort(cfg.RXSize, cfg.TXSize),
		dev:  dev,
		done: make(chan struct{}),
	}
	go h.pumpRX()
	go h.pumpTX(cfg.PollInterval)
	return h, nil
}

// Close stops the pumps and closes the device.
func (h *HostPort) Close() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	close(h.done)
	return h.dev.Close()
}

func (h *HostPort) pumpRX() {
	buf := make([]byte, 256)
	for {
		select {
		case <-h.done:
			return
		default:
		}
		n, err := h.dev.Read(buf)
		if err != nil {
			return
		}
		if n > 0 {
			h.FeedRXSlice(buf[:n])
		}
	}
}

func (h *HostPort) pumpTX(interval time.Duration) {
	buf := make([]byte, 256)
	for {
		select {
		case <-h.done:
			return
		default:
		}
		n := h.DrainTX(buf)
		if n == 0 {
			time.Sleep(interval)
			continue
		}
		for off := 0; off < n; {
			w, err := h.dev.Write(buf[off:n])
			if err != nil {
				return
			}
			off += w
		}
	}
}
