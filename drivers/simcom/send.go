package simcom

import (
	"gsmlink-go/x/conv"
	"gsmlink-go/x/mathx"
)

// Command emitters. Every emitter checks UART TX free space before writing and
// reports false when the command must be retried on a later tick; a command is
// never partially emitted.

const lineEnd = "\r\n"

// sendCommand writes cmd plus CRLF. Callers have already verified space.
func (d *Device) sendCommand(cmd string) {
	b := append(d.scratch[:0], cmd...)
	b = append(b, lineEnd...)
	d.serial.Write(b)
	d.debugf(cmd)
}

// command emits cmd and arms the reply matcher: the send machine stalls until
// a line starting with wait arrives or the reply deadline passes.
func (d *Device) command(cmd, wait string) bool {
	if d.serial.SpaceAvailable() < len(cmd)+len(lineEnd) {
		return false
	}
	d.sendCommand(cmd)
	d.armReply(wait)
	return true
}

// commandBytes is command for emitters that assemble into the scratch buffer.
func (d *Device) commandBytes(cmd []byte, wait string) {
	cmd = append(cmd, lineEnd...)
	d.serial.Write(cmd)
	d.armReply(wait)
}

func (d *Device) armReply(wait string) {
	d.waitForReply = wait
	d.issuedFrom = d.sendState
	d.replyTicks = 0
}

// sendDNSQuery emits AT+CDNSGIP="<host>". Needs the host length plus framing
// headroom in the TX ring.
func (d *Device) sendDNSQuery() bool {
	if d.serial.SpaceAvailable() < len(d.host)+20 {
		return false
	}
	b := append(d.scratch[:0], `AT+CDNSGIP="`...)
	b = append(b, d.host...)
	b = append(b, '"')
	d.commandBytes(b, okStr)
	return true
}

// prepareSending stages the next CIPSEND burst. The burst size is the staged
// write-ring backlog clamped so the payload still fits behind the command
// envelope; the modem's data-entry prompt is awaited before sendData shovels.
func (d *Device) prepareSending() bool {
	free := d.serial.SpaceAvailable()
	if free < sendEnvelope {
		return false
	}
	d.bytesToWrite = mathx.Min(d.writeBuf.Available(), free-sendEnvelope)
	b := append(d.scratch[:0], "AT+CIPSEND=0,"...)
	b = conv.AppendUint(b, uint32(d.bytesToWrite))
	d.commandBytes(b, promptStr)
	return true
}

// sendData moves exactly bytesToWrite bytes from the write ring into the UART
// in one tick. Space is guaranteed: prepareSending reserved the envelope and
// the ISR only drains the TX ring in the meantime.
func (d *Device) sendData() {
	for d.bytesToWrite > 0 {
		n := mathx.Min(d.bytesToWrite, len(d.scratch))
		n = d.writeBuf.Read(d.scratch[:n])
		if n == 0 {
			break
		}
		d.serial.Write(d.scratch[:n])
		d.bytesToWrite -= n
	}
	d.bytesToWrite = 0
}

// sendCiprxget2 requests a window grant. The grant is clamped by the
// outstanding window, the free application ring space, the UART receive
// headroom less the reply-header slack, and the dialect's per-request cap.
// Emitting while any clamp is zero would stall the exchange, so it reports
// false instead. The exchange has no final result code: the +CIPRXGET: 2
// header and its payload are the whole reply, so no reply token is armed and
// completion is the grant parser disarming itself.
func (d *Device) sendCiprxget2() bool {
	rxFree := d.serial.ReadBufferSize() - d.serial.BytesAvailable()
	if rxFree <= rxHeaderSlack || d.readBuf.Space() == 0 {
		return false
	}
	grant := mathx.MinOf(d.bytesToReceive,
		d.readBuf.Space(),
		rxFree-rxHeaderSlack,
		d.dialect.MaxReceiveSize)
	if grant <= 0 {
		return false
	}
	if d.serial.SpaceAvailable() < sendEnvelope {
		return false
	}
	b := append(d.scratch[:0], "AT+CIPRXGET=2,0,"...)
	b = conv.AppendUint(b, uint32(grant))
	d.commandBytes(b, "")
	d.replyState = replyCiprxget2
	return true
}

// sendIDRequest emits the identity query matching the latched request kind and
// consumes the request tag; the reply parser stays armed, past the final OK if
// need be, until it stores a reply line.
func (d *Device) sendIDRequest() bool {
	var cmd string
	switch d.idRequest {
	case Manufacturer:
		cmd = "AT+CGMI"
	case Model:
		cmd = "AT+CGMM"
	case IMEI:
		cmd = "AT+CGSN"
	case IMSI:
		cmd = "AT+CIMI"
	default:
		return false
	}
	if !d.command(cmd, okStr) {
		return false
	}
	d.idRequest = NoRequest
	d.replyState = replyID
	return true
}
