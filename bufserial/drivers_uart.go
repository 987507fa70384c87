package bufserial

import "tinygo.org/x/drivers"

// DriversPort adapts any tinygo.org/x/drivers UART implementation (such as
// machine.UART) to the engine's downward interface. The drivers.UART contract
// exposes no TX fill level, so the adapter assumes the driver accepts up to
// txWindow bytes without blocking; keep txWindow at or below the driver's own
// TX buffering.
type DriversPort struct {
	uart     drivers.UART
	rxSize   int
	txWindow int
}

// FromDriversUART wraps a configured drivers.UART. rxSize is the driver's RX
// buffer capacity, txWindow the per-tick TX budget; zero selects the common
// machine.UART ring size of 128 bytes.
func FromDriversUART(u drivers.UART, rxSize, txWindow int) *DriversPort {
	if rxSize <= 0 {
		rxSize = 128
	}
	if txWindow <= 0 {
		txWindow = 128
	}
	return &DriversPort{uart: u, rxSize: rxSize, txWindow: txWindow}
}

func (p *DriversPort) BytesAvailable() int { return p.uart.Buffered() }
func (p *DriversPort) SpaceAvailable() int { return p.txWindow }
func (p *DriversPort) ReadBufferSize() int { return p.rxSize }

func (p *DriversPort) ReadByte() (byte, bool) {
	if p.uart.Buffered() == 0 {
		return 0, false
	}
	var buf [1]byte
	n, err := p.uart.Read(buf[:])
	if err != nil || n == 0 {
		return 0, false
	}
	return buf[0], true
}

func (p *DriversPort) Read(buf []byte) int {
	n := p.uart.Buffered()
	if n == 0 {
		return 0
	}
	if n > len(buf) {
		n = len(buf)
	}
	got, err := p.uart.Read(buf[:n])
	if err != nil {
		return 0
	}
	return got
}

func (p *DriversPort) Write(buf []byte) int {
	n, err := p.uart.Write(buf)
	if err != nil {
		return 0
	}
	return n
}

func (p *DriversPort) FlushReceiveBuffers() {
	var sink [1]byte
	for p.uart.Buffered() > 0 {
		if _, err := p.uart.Read(sink[:]); err != nil {
			return
		}
	}
}
