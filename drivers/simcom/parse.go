package simcom

import "gsmlink-go/x/conv"

// Reply parsers. Each is a pure function over the current line; session state
// is only touched on a positive match.

// parseDNSReply handles +CDNSGIP lines. A "+CDNSGIP: 1" line is validated by
// counting double quotes: one hostname pair plus one or more address pairs
// means between 4 and 10 quotes. The first quoted token after the hostname
// pair is the resolved IPv4 address. Any failure latches dnsError and requests
// a modem reset.
func (d *Device) parseDNSReply(line []byte) bool {
	switch {
	case hasPrefix(line, "+CDNSGIP: 1"):
		quotes := 0
		for _, c := range line {
			if c == '"' {
				quotes++
			}
		}
		if quotes < 4 || quotes > 10 {
			d.dnsFailed()
			return false
		}
		// Skip the hostname pair; the IP starts after the third quote.
		i, q := 0, 0
		for q < 3 {
			if line[i] == '"' {
				q++
			}
			i++
		}
		d.ipLen = 0
		for i < len(line) && line[i] != '"' && d.ipLen < ipMaxLength {
			d.ip[d.ipLen] = line[i]
			d.ipLen++
			i++
		}
		return true
	case hasPrefix(line, "+CDNSGIP: 0"):
		d.dnsFailed()
	}
	return false
}

func (d *Device) dnsFailed() {
	d.phase = PhaseDNSError
	d.setFlag(flagResetPending)
	d.replyState = replyIdle
	d.debugf("dns: lookup failed")
}

// parseCiprxget4 folds a receive-window announcement into the outstanding
// window counter.
func (d *Device) parseCiprxget4(line []byte) bool {
	if !hasPrefix(line, "+CIPRXGET: 4,0,") {
		return false
	}
	n, ok := conv.ParseUint(line[15:])
	if !ok {
		return false
	}
	d.bytesToReceive += int(n)
	return true
}

// parseCiprxget2 handles a window grant: the granted count moves from
// bytesToReceive to bytesToRead and the engine leaves line-read mode, because
// the payload follows the header with no separator.
func (d *Device) parseCiprxget2(line []byte) bool {
	if !hasPrefix(line, "+CIPRXGET: 2,0,") {
		return false
	}
	n, ok := conv.ParseUint(line[15:])
	if !ok {
		return false
	}
	d.bytesToReceive -= int(n)
	d.bytesToRead += int(n)
	d.clearFlag(flagLineRead)
	return true
}

// parseCSQ stores the RSSI index from a +CSQ reply. 99 is the modem's
// "unknown" sentinel and is stored as-is.
func (d *Device) parseCSQ(line []byte) bool {
	if !hasPrefix(line, "+CSQ: ") {
		return false
	}
	n, ok := conv.ParseUint(line[6:])
	if !ok {
		return false
	}
	d.rssi = uint8(n)
	return true
}

// parseIDReply copies an identity reply line verbatim, truncated to the
// identity buffer. Command echo and bare-CR lines are skipped; the terminating
// CR ends the copy. Only the first matching line is stored.
func (d *Device) parseIDReply(line []byte) bool {
	if len(line) == 0 || hasPrefix(line, "AT") || line[0] == '\r' {
		return false
	}
	if d.idLen != 0 {
		return false
	}
	n := 0
	for n < len(line) && line[n] != '\r' && n < idStringMaxLength-1 {
		d.idString[n] = line[n]
		n++
	}
	if n == 0 {
		return false
	}
	d.idLen = n
	return true
}

// parseOwnIP captures the bearer-assigned address. SIM800's CIFSR answers with
// a bare dotted quad and no OK; SIM7x00's IPADDR prefixes the line. Echo,
// blank and result-code lines are skipped.
func (d *Device) parseOwnIP(line []byte) bool {
	if len(line) == 0 || hasPrefix(line, "AT") || line[0] == '\r' ||
		hasPrefix(line, okStr) || hasPrefix(line, "ERROR") {
		return false
	}
	if hasPrefix(line, "+IPADDR: ") {
		line = line[9:]
	}
	if len(line) == 0 || line[0] < '0' || line[0] > '9' {
		return false
	}
	d.localLen = 0
	for _, c := range line {
		if c == '\r' || c == '\n' || d.localLen == ipMaxLength {
			break
		}
		d.localIP[d.localLen] = c
		d.localLen++
	}
	return d.localLen > 0
}

// checkConnectionState folds unsolicited notifications into session state.
// It runs once per line in every state.
func (d *Device) checkConnectionState(line []byte) {
	if hasPrefix(line, "+CIPRXGET: 1,0") {
		d.setFlag(flagDataPending)
		return
	}
	if hasPrefix(line, d.dialect.ClosedPrefix) {
		d.waitForReply = ""
		// A close while the socket-open confirm is still awaited is a failed
		// open, not a connected session.
		unexpected := d.sendState != sendClosing &&
			(d.hasFlag(flagIPConnected) || d.sendState == sendConnectedIdle)
		d.clearFlag(flagIPConnected)
		if unexpected {
			d.phase = PhaseConnectionError
			d.sendState = sendIdle
			d.debugf("socket: closed by peer")
		}
	}
}

// isIPv4Literal reports whether s is already a dotted-quad address, in which
// case the DNS lookup is skipped.
func isIPv4Literal(s string) bool {
	dots, digits := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '.':
			if digits == 0 {
				return false
			}
			dots++
			digits = 0
		case c >= '0' && c <= '9':
			digits++
			if digits > 3 {
				return false
			}
		default:
			return false
		}
	}
	return dots == 3 && digits > 0
}
