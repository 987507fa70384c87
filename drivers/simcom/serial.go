package simcom

// BufferedSerial is the downward interface to the UART driver. Every call is
// nonblocking; the engine polls fill levels before reading or writing. The
// driver owns its own RX/TX rings (typically ISR-fed), the engine never sees
// raw hardware.
type BufferedSerial interface {
	// BytesAvailable returns the number of received bytes ready to read.
	BytesAvailable() int
	// SpaceAvailable returns the free space in the transmit buffer.
	SpaceAvailable() int
	// ReadBufferSize returns the total capacity of the receive buffer.
	ReadBufferSize() int
	// ReadByte pops one received byte; ok is false when none is available.
	ReadByte() (byte, bool)
	// Read pops up to len(p) received bytes and returns the count.
	Read(p []byte) int
	// Write queues up to len(p) bytes for transmission and returns the count.
	Write(p []byte) int
	// FlushReceiveBuffers discards all pending received bytes.
	FlushReceiveBuffers()
}
