//go:build rp2040 || rp2350

package bufserial

import (
	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// UARTXPort adapts an interrupt-driven uartx UART to the engine's downward
// interface. uartx already keeps ISR-fed software rings, so the adapter is a
// straight mapping of its nonblocking calls.
type UARTXPort struct {
	uart   *uartx.UART
	rxSize int
}

// FromUARTX wraps a configured uartx UART. rxSize must match the driver's
// software RX buffer capacity; it feeds the engine's receive-window headroom
// arithmetic.
func FromUARTX(u *uartx.UART, rxSize int) *UARTXPort {
	if rxSize <= 0 {
		rxSize = 128
	}
	return &UARTXPort{uart: u, rxSize: rxSize}
}

func (p *UARTXPort) BytesAvailable() int { return p.uart.Buffered() }
func (p *UARTXPort) SpaceAvailable() int { return p.uart.TxFree() }
func (p *UARTXPort) ReadBufferSize() int { return p.rxSize }

func (p *UARTXPort) ReadByte() (byte, bool) {
	b, err := p.uart.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

func (p *UARTXPort) Read(buf []byte) int  { return p.uart.TryRead(buf) }
func (p *UARTXPort) Write(buf []byte) int { return p.uart.TryWrite(buf) }

func (p *UARTXPort) FlushReceiveBuffers() {
	var sink [32]byte
	for p.uart.Buffered() > 0 {
		if p.uart.TryRead(sink[:]) == 0 {
			return
		}
	}
}
