// Package bufserial provides ring-buffered implementations of the modem
// engine's downward serial interface. The core Port pairs two SPSC byte rings:
// the receive ring is fed from an ISR or pump goroutine, the transmit ring is
// drained by one. Platform constructors bind a Port (or a native driver) to
// real hardware.
package bufserial

import "gsmlink-go/x/cbuf"

const (
	defaultRXSize = 512
	defaultTXSize = 512
)

// Port is a ring-buffered serial endpoint. The engine side uses the
// BufferedSerial methods; the driver side feeds RX and drains TX.
type Port struct {
	rx *cbuf.Ring[byte]
	tx *cbuf.Ring[byte]
}

// NewPort builds a port with the given ring sizes; zero selects defaults.
func NewPort(rxSize, txSize int) *Port {
	if rxSize <= 0 {
		rxSize = defaultRXSize
	}
	if txSize <= 0 {
		txSize = defaultTXSize
	}
	return &Port{
		rx: cbuf.New[byte](rxSize),
		tx: cbuf.New[byte](txSize),
	}
}

// Engine side.

func (p *Port) BytesAvailable() int { return p.rx.Available() }
func (p *Port) SpaceAvailable() int { return p.tx.Space() }
func (p *Port) ReadBufferSize() int { return p.rx.Size() }

func (p *Port) ReadByte() (byte, bool) {
	if p.rx.Empty() {
		return 0, false
	}
	return p.rx.Pull(), true
}

func (p *Port) Read(buf []byte) int  { return p.rx.Read(buf) }
func (p *Port) Write(buf []byte) int { return p.tx.Write(buf) }

func (p *Port) FlushReceiveBuffers() { p.rx.Flush() }

// Driver side.

// FeedRX stores one received byte. ISR-safe: it never fails, overwriting the
// oldest unread byte when the ring is full.
func (p *Port) FeedRX(b byte) { p.rx.Push(b) }

// FeedRXSlice stores a burst of received bytes one at a time with FeedRX
// overwrite semantics.
func (p *Port) FeedRXSlice(buf []byte) {
	for _, b := range buf {
		p.rx.Push(b)
	}
}

// DrainTX removes up to len(buf) queued transmit bytes.
func (p *Port) DrainTX(buf []byte) int { return p.tx.Read(buf) }

// TXPending returns the number of bytes waiting to go on the wire.
func (p *Port) TXPending() int { return p.tx.Available() }
