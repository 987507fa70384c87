package simcom

// Run advances the engine by one cooperative tick: ingest UART bytes (line or
// binary), fold the completed line into the reply machine, then let the send
// machine emit at most one command. Between ticks the engine holds no CPU and
// every action either completes or leaves state untouched for the next tick.
func (d *Device) Run() {
	if d.hasFlag(flagSerialLocked) {
		return
	}

	if !d.hasFlag(flagLineRead) && d.bytesToRead > 0 {
		if d.readBuf.Space() < d.bytesToRead {
			d.flushReadBuffer()
		} else {
			d.receive()
		}
	} else if line, ok := d.fillLineBuffer(); ok {
		d.processLine(d.lineBuf[:line])
	}

	if d.waitForReply != "" || d.awaitingParse() {
		d.replyTicks++
		if d.replyTicks >= d.cfg.ReplyTimeoutTicks {
			d.commandFailed()
		}
	}

	// The send machine stays blocked while a reply token or a pending data
	// line is outstanding, so a window grant is never requested twice.
	if d.waitForReply == "" && !d.awaitingParse() {
		d.processSend()
	}
}

// receive vacuums a granted binary window from the UART into the read ring.
// The whole window is drained atomically once it has arrived, then line-read
// mode resumes.
func (d *Device) receive() bool {
	if d.serial.BytesAvailable() < d.bytesToRead {
		return false
	}
	for d.bytesToRead > 0 {
		c, ok := d.serial.ReadByte()
		if !ok {
			return false
		}
		d.readBuf.Push(c)
		d.bytesToRead--
	}
	d.setFlag(flagLineRead)
	return true
}

// flushReadBuffer discards the remainder of a window the read ring cannot
// hold, keeping the engine aligned with the modem's framing. Line-read mode
// resumes once the window is fully consumed.
func (d *Device) flushReadBuffer() {
	for d.bytesToRead > 0 && d.serial.BytesAvailable() > 0 {
		d.serial.ReadByte()
		d.bytesToRead--
	}
	d.bytesToReceive = 0
	if d.bytesToRead == 0 {
		d.setFlag(flagLineRead)
	}
}

// processLine is the reply sub-machine: one completed line in, session state
// out. Unsolicited notifications are folded in first; a line matching the
// armed reply token completes the in-flight command; everything else is
// dispatched to the parser the current reply state selects.
func (d *Device) processLine(line []byte) {
	d.checkConnectionState(line)

	if d.waitForReply != "" && hasPrefix(line, d.waitForReply) {
		d.waitForReply = ""
		d.replyTicks = 0
		d.retries = 0
		// DNS and identity replies may still be outstanding after the
		// final result code; their parsers disarm themselves.
		if d.replyState != replyDNS && d.replyState != replyID &&
			d.replyState != replyOwnIP {
			d.replyState = replyIdle
		}
		return
	}

	if hasPrefix(line, "ERROR") || hasPrefix(line, "+CME ERROR:") {
		if d.waitForReply != "" || d.replyState != replyIdle {
			d.replyState = replyIdle
			d.commandFailed()
		}
		return
	}

	switch d.replyState {
	case replyNetworkReg:
		if hasPrefix(line, "+CREG: ") {
			d.netRegistered = registered(line[7:])
		}
	case replyGPRSAttach:
		if hasPrefix(line, "+CGATT: ") {
			d.gprsAttached = len(line) > 8 && line[8] == '1'
		}
	case replyOwnIP:
		if d.parseOwnIP(line) {
			d.replyState = replyIdle
		}
	case replyDNS:
		if d.parseDNSReply(line) {
			d.replyState = replyIdle
		}
	case replyCiprxget4:
		d.parseCiprxget4(line)
	case replyCiprxget2:
		if d.parseCiprxget2(line) {
			d.replyState = replyIdle
		}
	case replyCSQ:
		d.parseCSQ(line)
	case replyID:
		if d.parseIDReply(line) {
			d.replyState = replyIdle
		}
	}
}

// registered reports a +CREG status of home (1) or roaming (5).
func registered(stat []byte) bool {
	// stat is "<n>,<stat>..."; the second field decides.
	for i := 0; i < len(stat); i++ {
		if stat[i] == ',' {
			return i+1 < len(stat) && (stat[i+1] == '1' || stat[i+1] == '5')
		}
	}
	return false
}

// awaitingParse reports whether the reply machine still owes a data line that
// no result-code match will deliver — a late DNS or identity line, the bare
// own-IP reply, or a window-grant header. These must also be bounded by the
// reply deadline.
func (d *Device) awaitingParse() bool {
	switch d.replyState {
	case replyDNS, replyOwnIP, replyID, replyCiprxget2:
		return true
	}
	return false
}

// commandFailed handles a reply timeout or an ERROR result: the command is
// retried from the state that issued it, and once RetryLimit retries have also
// failed the phase latches to generalError with a modem reset requested.
func (d *Device) commandFailed() {
	d.waitForReply = ""
	d.replyState = replyIdle
	d.replyTicks = 0
	d.retries++
	if d.retries > d.cfg.RetryLimit {
		d.retries = 0
		d.phase = PhaseGeneralError
		d.setFlag(flagResetPending)
		d.sendState = sendIdle
		d.debugf("command: retries exhausted")
		return
	}
	d.sendState = d.issuedFrom
	d.debugf("command: retrying")
}

// processSend is the command-sending sub-machine. It only runs with no reply
// outstanding and emits at most one command per tick.
func (d *Device) processSend() {
	// A requested modem reset preempts everything else.
	if d.hasFlag(flagResetPending) && d.sendState != sendResetting {
		if d.command("AT+CFUN=1,1", okStr) {
			d.clearFlag(flagResetPending)
			d.sendState = sendResetting
		}
		return
	}

	// A disconnect issued mid-attach aborts the connection attempt at the
	// next decision point; the connected path tears down properly instead.
	if d.hasFlag(flagDisconnectPending) {
		switch d.sendState {
		case sendIdle, sendConnectedIdle, sendDataPrompt, sendClosing, sendResetting:
		default:
			d.clearFlag(flagDisconnectPending | flagConnectPending)
			d.replyState = replyIdle
			d.phase = PhaseNotConnected
			d.sendState = sendIdle
			return
		}
	}

	switch d.sendState {
	case sendIdle:
		if d.hasFlag(flagDisconnectPending) {
			// Nothing is up; acknowledge and clear any latched error.
			d.clearFlag(flagDisconnectPending)
			d.phase = PhaseNotConnected
			return
		}
		if d.hasFlag(flagConnectPending) {
			d.clearFlag(flagConnectPending)
			d.regRetries = 0
			d.attachRetries = 0
			d.netRegistered = false
			d.gprsAttached = false
			d.setupIdx = 0
			d.sendState = sendProbe
		}

	case sendProbe:
		if d.command("AT", okStr) {
			d.sendState = sendEchoOff
		}

	case sendEchoOff:
		if d.command(d.dialect.EchoOff, okStr) {
			d.sendState = sendNetworkReg
		}

	case sendNetworkReg:
		if d.netRegistered {
			d.sendState = sendGPRSAttach
			return
		}
		if d.regRetries >= d.cfg.RetryLimit {
			d.attachFailed()
			return
		}
		if d.command("AT+CREG?", okStr) {
			d.regRetries++
			d.replyState = replyNetworkReg
		}

	case sendGPRSAttach:
		if d.gprsAttached {
			d.sendState = sendSetupExtra
			return
		}
		if d.attachRetries >= d.cfg.RetryLimit {
			d.attachFailed()
			return
		}
		if d.command("AT+CGATT?", okStr) {
			d.attachRetries++
			d.replyState = replyGPRSAttach
		}

	case sendSetupExtra:
		if d.setupIdx >= len(d.dialect.SetupExtra) {
			d.sendState = sendSetAPN
			return
		}
		if d.command(d.dialect.SetupExtra[d.setupIdx], okStr) {
			d.setupIdx++
		}

	case sendSetAPN:
		b := d.dialect.AppendSetAPN(d.scratch[:0], d.apn)
		if d.serial.SpaceAvailable() >= len(b)+len(lineEnd) {
			d.commandBytes(b, okStr)
			d.sendState = sendActivateBearer
		}

	case sendActivateBearer:
		if d.command(d.dialect.ActivateBearer, okStr) {
			d.sendState = sendQueryOwnIP
		}

	case sendQueryOwnIP:
		// The assigned-address reply carries no final result code on
		// SIM800, so completion is the parser disarming itself.
		if d.command(d.dialect.QueryOwnIP, "") {
			d.replyState = replyOwnIP
			d.sendState = sendAwaitOwnIP
		}

	case sendAwaitOwnIP:
		if d.replyState == replyIdle {
			d.phase = PhaseIntermediate
			d.sendState = sendDNSLookup
		}

	case sendDNSLookup:
		if isIPv4Literal(d.host) {
			d.ipLen = copy(d.ip[:], d.host)
			d.sendState = sendOpenSocket
			return
		}
		if d.sendDNSQuery() {
			d.issuedFrom = sendDNSLookup
			d.replyState = replyDNS
			d.sendState = sendAwaitDNS
		}

	case sendAwaitDNS:
		if d.replyState == replyIdle && d.ipLen > 0 {
			d.sendState = sendOpenSocket
		}

	case sendOpenSocket:
		b := d.dialect.AppendOpenSocket(d.scratch[:0], d.ip[:d.ipLen], d.port)
		if d.serial.SpaceAvailable() >= len(b)+len(lineEnd) {
			d.commandBytes(b, d.dialect.ConnectConfirm)
			d.sendState = sendConnectedIdle
		}

	case sendConnectedIdle:
		// Reaching here with the confirm matched means the socket is up.
		if !d.hasFlag(flagIPConnected) {
			d.setFlag(flagIPConnected)
			d.phase = PhaseConnected
			d.debugf("socket: connected")
		}
		d.steadyState()

	case sendDataPrompt:
		// The '>' prompt arrived; shovel the staged burst in this tick.
		d.sendData()
		d.armReply(d.dialect.SendConfirm)
		d.issuedFrom = sendConnectedIdle
		d.sendState = sendConnectedIdle

	case sendClosing:
		// checkConnectionState cleared the reply marker on the close
		// notification; the socket is down.
		d.clearFlag(flagIPConnected | flagDisconnectPending)
		d.phase = PhaseNotConnected
		d.sendState = sendIdle
		d.debugf("socket: closed")

	case sendResetting:
		d.softReset()
	}
}

// steadyState cycles the connected-phase actions in priority order: teardown,
// transmit, window refresh, window grant, signal query, identity query. The
// first action able to make progress wins the tick.
func (d *Device) steadyState() {
	switch {
	case d.hasFlag(flagDisconnectPending):
		// The pending flag stays set until teardown completes, so a lost
		// close notification retries the command instead of stranding a
		// half-closed session.
		if d.command(d.dialect.CloseSocket, d.dialect.ClosedPrefix) {
			d.sendState = sendClosing
		}

	case !d.hasFlag(flagIPConnected):
		// Peer closed the socket mid-session.
		d.phase = PhaseConnectionError
		d.sendState = sendIdle

	case d.writeBuf.Available() > 0:
		if d.prepareSending() {
			d.sendState = sendDataPrompt
		}

	case d.hasFlag(flagDataPending) && d.bytesToReceive == 0:
		if d.command("AT+CIPRXGET=4,0", okStr) {
			d.clearFlag(flagDataPending)
			d.replyState = replyCiprxget4
		}

	case d.bytesToReceive > 0:
		d.sendCiprxget2()

	case d.rssi == rssiInFlight:
		if d.command("AT+CSQ", okStr) {
			d.replyState = replyCSQ
		}

	case d.idRequest != NoRequest:
		d.sendIDRequest()
	}
}

// attachFailed latches generalError after the bounded registration or attach
// polling gives up.
func (d *Device) attachFailed() {
	d.phase = PhaseGeneralError
	d.setFlag(flagResetPending)
	d.sendState = sendIdle
	d.debugf("attach: giving up")
}

// softReset rewinds the engine after the modem acknowledged CFUN=1,1. A still
// latched error phase survives until the application cycles the connection;
// a pending connect restarts the attach sequence from the probe.
func (d *Device) softReset() {
	connectPending := d.hasFlag(flagConnectPending)
	phase := d.phase
	d.ResetStates()
	switch phase {
	case PhaseDNSError, PhaseGeneralError, PhaseConnectionError:
		d.phase = phase
	default:
		if connectPending {
			d.setFlag(flagConnectPending)
			d.phase = PhaseConnecting
		}
	}
	d.debugf("reset: states rewound")
}
