package simcom

// Application-facing surface. Everything here is edge-triggered: calls latch a
// request flag and the actual work happens inside Run ticks.

// SetAPN stores the operator access point name. Must be set before Connect.
func (d *Device) SetAPN(apn string) {
	d.apn = apn
}

// SetHostPort stores the peer to dial. The host may be a name (resolved via
// the modem's DNS) or a dotted-quad literal.
func (d *Device) SetHostPort(host string, port uint16) {
	d.host = host
	d.port = port
}

// Connect requests session establishment. It fails when no APN or peer is
// configured, or when a session is already being set up or is established.
func (d *Device) Connect() bool {
	if d.apn == "" || d.host == "" {
		return false
	}
	// Error phases latch until an explicit Disconnect acknowledges them.
	if d.phase != PhaseNotConnected {
		return false
	}
	d.phase = PhaseConnecting
	d.setFlag(flagConnectPending)
	return true
}

// Disconnect requests session teardown. The actual close is deferred to the
// next engine decision point; it never interrupts an in-flight UART write.
func (d *Device) Disconnect() {
	d.setFlag(flagDisconnectPending)
}

// IsConnected reports an established data socket.
func (d *Device) IsConnected() bool {
	return d.phase == PhaseConnected && d.hasFlag(flagIPConnected)
}

// IsIdle reports a fully torn-down engine.
func (d *Device) IsIdle() bool {
	return d.phase == PhaseNotConnected && d.sendState == sendIdle
}

// Phase returns the current connection phase.
func (d *Device) Phase() ConnectionPhase {
	return d.phase
}

// BytesAvailable returns the number of received payload bytes ready for Read.
func (d *Device) BytesAvailable() int {
	return d.readBuf.Available()
}

// SpaceAvailable returns the free space in the transmit staging ring.
func (d *Device) SpaceAvailable() int {
	return d.writeBuf.Space()
}

// Read copies up to len(p) received payload bytes into p. A return of 0 with
// IsConnected false means end of stream.
func (d *Device) Read(p []byte) int {
	return d.readBuf.Read(p)
}

// Write stages up to len(p) bytes for transmission and returns the count
// accepted. Data drains through CIPSEND bursts on subsequent ticks.
func (d *Device) Write(p []byte) int {
	return d.writeBuf.Write(p)
}

// LocalIP returns the bearer-assigned address, empty before context setup.
func (d *Device) LocalIP() string {
	return string(d.localIP[:d.localLen])
}

// PeerIP returns the resolved peer address, empty before DNS completes.
func (d *Device) PeerIP() string {
	return string(d.ip[:d.ipLen])
}

// RequestRSSI latches a signal-quality query for the next idle tick.
func (d *Device) RequestRSSI() {
	d.rssi = rssiInFlight
}

// RSSI returns the most recent signal-quality index: 99 when the modem does
// not know, 255 while a query is still in flight.
func (d *Device) RSSI() uint8 {
	return d.rssi
}

// RequestIDString latches an identity query of the given kind. The previous
// identity string is discarded.
func (d *Device) RequestIDString(kind IDRequest) {
	d.idRequest = kind
	d.idLen = 0
}

// IDString returns the most recent identity reply, or the empty string while
// a request is outstanding.
func (d *Device) IDString() string {
	return string(d.idString[:d.idLen])
}

// SerialLock grants the application exclusive raw UART access. It fails while
// any reply is outstanding; once granted the engine will not touch the UART
// until SerialUnlock.
func (d *Device) SerialLock() bool {
	if d.waitForReply != "" || d.replyState != replyIdle {
		return false
	}
	d.setFlag(flagSerialLocked)
	return true
}

// SerialUnlock returns the UART to the engine.
func (d *Device) SerialUnlock() {
	d.clearFlag(flagSerialLocked)
}

// SerialWrite writes raw bytes to the UART. Only valid while locked.
func (d *Device) SerialWrite(p []byte) int {
	if !d.hasFlag(flagSerialLocked) {
		return 0
	}
	return d.serial.Write(p)
}

// SerialRead reads raw bytes from the UART. Only valid while locked.
func (d *Device) SerialRead(p []byte) int {
	if !d.hasFlag(flagSerialLocked) {
		return 0
	}
	return d.serial.Read(p)
}
