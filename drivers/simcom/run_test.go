package simcom

import (
	"strings"
	"testing"
)

func TestConnectHappyPath(t *testing.T) {
	d, s := newTestDevice(Config{})
	connectDevice(t, d, s)

	if got := d.PeerIP(); got != "93.184.216.34" {
		t.Errorf("peer IP = %q, want 93.184.216.34", got)
	}
	if got := d.LocalIP(); got != "10.23.4.91" {
		t.Errorf("local IP = %q, want 10.23.4.91", got)
	}
}

func TestDNSFailure(t *testing.T) {
	d, s := newTestDevice(Config{})
	d.SetAPN("internet")
	d.SetHostPort("example.com", 80)
	d.Connect()
	expectCommand(t, d, s, "AT\r\n", "OK\r\n")
	expectCommand(t, d, s, "ATE0", "OK\r\n")
	expectCommand(t, d, s, "AT+CREG?", "+CREG: 0,1\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CGATT?", "+CGATT: 1\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CIPMUX=1", "OK\r\n")
	expectCommand(t, d, s, "AT+CIPRXGET=1", "OK\r\n")
	expectCommand(t, d, s, `AT+CSTT="internet"`, "OK\r\n")
	expectCommand(t, d, s, "AT+CIICR", "OK\r\n")
	expectCommand(t, d, s, "AT+CIFSR", "10.23.4.91\r\n")
	expectCommand(t, d, s, `AT+CDNSGIP="example.com"`, "OK\r\n+CDNSGIP: 0,8\r\n")

	runTicks(d, 2)
	if d.Phase() != PhaseDNSError {
		t.Errorf("phase = %v, want dnsError", d.Phase())
	}
	// The failure requests a modem reset; depending on tick alignment the
	// engine may already have turned the pending flag into the command.
	if !d.hasFlag(flagResetPending) && !strings.Contains(s.takeTx(), "AT+CFUN=1,1") {
		t.Error("no reset requested after DNS failure")
	}
}

func TestDNSSkippedForIPLiteral(t *testing.T) {
	d, s := newTestDevice(Config{})
	d.SetAPN("internet")
	d.SetHostPort("93.184.216.34", 80)
	d.Connect()
	expectCommand(t, d, s, "AT\r\n", "OK\r\n")
	expectCommand(t, d, s, "ATE0", "OK\r\n")
	expectCommand(t, d, s, "AT+CREG?", "+CREG: 0,1\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CGATT?", "+CGATT: 1\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CIPMUX=1", "OK\r\n")
	expectCommand(t, d, s, "AT+CIPRXGET=1", "OK\r\n")
	expectCommand(t, d, s, `AT+CSTT="internet"`, "OK\r\n")
	expectCommand(t, d, s, "AT+CIICR", "OK\r\n")
	expectCommand(t, d, s, "AT+CIFSR", "10.23.4.91\r\n")
	// No CDNSGIP: the literal goes straight to the socket open.
	expectCommand(t, d, s, `AT+CIPSTART=0,"TCP","93.184.216.34","80"`,
		"OK\r\nCONNECT OK\r\n")
	runTicks(d, 4)
	if !d.IsConnected() {
		t.Fatalf("phase = %v, want connected", d.Phase())
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	d, s := newTestDevice(Config{})
	connectDevice(t, d, s)

	if n := d.Write([]byte("hello")); n != 5 {
		t.Fatalf("Write staged %d bytes, want 5", n)
	}
	expectCommand(t, d, s, "AT+CIPSEND=0,5", "> ")
	runTicks(d, 2)
	if got := s.takeTx(); got != "hello" {
		t.Fatalf("payload = %q, want hello", got)
	}
	s.feed("\r\nSEND OK\r\n")
	runTicks(d, 4)
	if d.bytesToWrite != 0 {
		t.Errorf("bytesToWrite = %d after burst, want 0", d.bytesToWrite)
	}

	// Modem announces unread data; the engine refreshes the window.
	s.feed("+CIPRXGET: 1,0\r\n")
	expectCommand(t, d, s, "AT+CIPRXGET=4,0", "+CIPRXGET: 4,0,3\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CIPRXGET=2,0,3", "+CIPRXGET: 2,0,3\r\nabc")
	runTicks(d, 6)

	buf := make([]byte, 8)
	if n := d.Read(buf); n != 3 || string(buf[:3]) != "abc" {
		t.Errorf("read ring = %q (%d bytes), want abc", buf[:n], n)
	}

	// The grant exchange carries no final result code, so the engine must be
	// fully idle again: no armed reply, and the next request goes out at once.
	if d.waitForReply != "" || d.replyState != replyIdle {
		t.Fatalf("engine not idle after grant: waitForReply=%q replyState=%d",
			d.waitForReply, d.replyState)
	}
	d.RequestRSSI()
	expectCommand(t, d, s, "AT+CSQ", "+CSQ: 21,99\r\nOK\r\n")
	runTicks(d, 3)
	if got := d.RSSI(); got != 21 {
		t.Errorf("RSSI after receive window = %d, want 21", got)
	}
}

func TestReceiveAccounting(t *testing.T) {
	d, s := newTestDevice(Config{})
	connectDevice(t, d, s)

	s.feed("+CIPRXGET: 1,0\r\n")
	runTicks(d, 1)
	expectCommand(t, d, s, "AT+CIPRXGET=4,0", "+CIPRXGET: 4,0,10\r\nOK\r\n")
	runTicks(d, 2)
	if d.bytesToReceive != 10 || d.bytesToRead != 0 {
		t.Fatalf("after announce: toReceive=%d toRead=%d, want 10/0",
			d.bytesToReceive, d.bytesToRead)
	}

	expectCommand(t, d, s, "AT+CIPRXGET=2,0,10", "+CIPRXGET: 2,0,4\r\n")
	runTicks(d, 1)
	// Partial grant: announced 10, granted 4.
	if d.bytesToReceive != 6 || d.bytesToRead != 4 {
		t.Fatalf("after grant: toReceive=%d toRead=%d, want 6/4",
			d.bytesToReceive, d.bytesToRead)
	}
	if d.hasFlag(flagLineRead) {
		t.Error("line-read mode still set during a binary window")
	}

	s.feed("wxyz")
	runTicks(d, 2)
	if d.bytesToRead != 0 {
		t.Errorf("toRead = %d after window drained, want 0", d.bytesToRead)
	}
	if !d.hasFlag(flagLineRead) {
		t.Error("line-read mode not restored after the window")
	}
	if got := d.BytesAvailable(); got != 4 {
		t.Errorf("read ring holds %d bytes, want 4", got)
	}

	// Six announced bytes are still outstanding; the engine keeps granting.
	expectCommand(t, d, s, "AT+CIPRXGET=2,0,6", "+CIPRXGET: 2,0,6\r\nqrstuv")
	runTicks(d, 4)
	if d.bytesToReceive != 0 || d.bytesToRead != 0 {
		t.Errorf("after final grant: toReceive=%d toRead=%d, want 0/0",
			d.bytesToReceive, d.bytesToRead)
	}
	if got := d.BytesAvailable(); got != 10 {
		t.Errorf("read ring holds %d bytes, want 10", got)
	}

	// No reply token outstanding: the serial lock must be grantable.
	if !d.SerialLock() {
		t.Error("SerialLock refused after a completed grant exchange")
	}
	d.SerialUnlock()
}

func TestGracefulClose(t *testing.T) {
	d, s := newTestDevice(Config{})
	connectDevice(t, d, s)

	d.Disconnect()
	expectCommand(t, d, s, "AT+CIPCLOSE=0", "CLOSED\r\n")
	runTicks(d, 4)
	if d.hasFlag(flagIPConnected) {
		t.Error("socket flag still set after CLOSED")
	}
	if d.Phase() != PhaseNotConnected {
		t.Errorf("phase = %v, want notConnected", d.Phase())
	}
}

func TestUnexpectedCloseMidSession(t *testing.T) {
	d, s := newTestDevice(Config{})
	connectDevice(t, d, s)

	s.feed("CLOSED\r\n")
	runTicks(d, 2)
	if d.Phase() != PhaseConnectionError {
		t.Errorf("phase = %v, want connectionError", d.Phase())
	}
	if d.IsConnected() {
		t.Error("still reports connected after peer close")
	}
}

func TestRSSIQuery(t *testing.T) {
	d, s := newTestDevice(Config{})
	connectDevice(t, d, s)

	d.RequestRSSI()
	if got := d.RSSI(); got != 0xFF {
		t.Fatalf("RSSI while in flight = %d, want 255", got)
	}
	expectCommand(t, d, s, "AT+CSQ", "+CSQ: 17,99\r\nOK\r\n")
	runTicks(d, 3)
	if got := d.RSSI(); got != 17 {
		t.Errorf("RSSI = %d, want 17", got)
	}
}

func TestIdentityQuery(t *testing.T) {
	d, s := newTestDevice(Config{})
	connectDevice(t, d, s)

	d.RequestIDString(IMEI)
	if got := d.IDString(); got != "" {
		t.Fatalf("IDString while pending = %q, want empty", got)
	}
	expectCommand(t, d, s, "AT+CGSN", "\r\n867564050638945\r\n\r\nOK\r\n")
	runTicks(d, 6)
	if got := d.IDString(); got != "867564050638945" {
		t.Errorf("IDString = %q, want 867564050638945", got)
	}
}

func TestAtMostOneCommandPerTick(t *testing.T) {
	d, s := newTestDevice(Config{})
	d.SetAPN("internet")
	d.SetHostPort("example.com", 80)
	d.Connect()

	replies := map[string]string{
		"AT":           "OK\r\n",
		"ATE0":         "OK\r\n",
		"AT+CREG?":     "+CREG: 0,1\r\nOK\r\n",
		"AT+CGATT?":    "+CGATT: 1\r\nOK\r\n",
		"AT+CIPMUX=1":  "OK\r\n",
		"AT+CIPRXGET=1": "OK\r\n",
		`AT+CSTT="internet"`: "OK\r\n",
		"AT+CIICR": "OK\r\n",
		"AT+CIFSR": "10.23.4.91\r\n",
		`AT+CDNSGIP="example.com"`: "OK\r\n+CDNSGIP: 1,\"example.com\",\"93.184.216.34\"\r\n",
		`AT+CIPSTART=0,"TCP","93.184.216.34","80"`: "OK\r\nCONNECT OK\r\n",
	}

	for tick := 0; tick < 400 && !d.IsConnected(); tick++ {
		d.Run()
		cmds := commandLines(s.takeTx())
		if len(cmds) > 1 {
			t.Fatalf("tick %d emitted %d commands: %v", tick, len(cmds), cmds)
		}
		for _, c := range cmds {
			if r, ok := replies[c]; ok {
				s.feed(r)
			}
		}
	}
	if !d.IsConnected() {
		t.Fatal("never reached connected state")
	}
}

func TestSerialLockExclusivity(t *testing.T) {
	d, s := newTestDevice(Config{})
	d.SetAPN("internet")
	d.SetHostPort("example.com", 80)
	d.Connect()
	runTicks(d, 2) // "AT" now in flight
	if len(commandLines(s.takeTx())) != 1 {
		t.Fatal("expected the probe command in flight")
	}
	if d.SerialLock() {
		t.Fatal("SerialLock granted while a reply is outstanding")
	}

	s.feed("OK\r\n")
	runTicks(d, 1) // consumes OK, emits ATE0 -> in flight again
	s.takeTx()
	if d.SerialLock() {
		t.Fatal("SerialLock granted mid-sequence with a reply outstanding")
	}

	// A freshly built engine is idle, so it grants the lock at once.
	d2, s2 := newTestDevice(Config{})
	if !d2.SerialLock() {
		t.Fatal("SerialLock refused on an idle engine")
	}
	s2.feed("+CIPRXGET: 1,0\r\n")
	runTicks(d2, 10)
	if s2.BytesAvailable() != len("+CIPRXGET: 1,0\r\n") {
		t.Error("engine consumed UART bytes while locked")
	}
	if len(s2.tx) != 0 {
		t.Error("engine wrote to UART while locked")
	}
	if n := d2.SerialWrite([]byte("AT+RAW\r\n")); n == 0 {
		t.Error("SerialWrite refused while locked")
	}
	d2.SerialUnlock()
	if n := d2.SerialWrite([]byte("x")); n != 0 {
		t.Error("SerialWrite allowed while unlocked")
	}
}

func TestConnectPreconditions(t *testing.T) {
	d, _ := newTestDevice(Config{})
	if d.Connect() {
		t.Error("Connect succeeded without APN and host")
	}
	d.SetAPN("internet")
	if d.Connect() {
		t.Error("Connect succeeded without host")
	}
	d.SetHostPort("example.com", 80)
	if !d.Connect() {
		t.Error("Connect refused with APN and host configured")
	}
	if d.Connect() {
		t.Error("Connect succeeded twice")
	}
}

func TestCommandRetryEscalation(t *testing.T) {
	d, s := newTestDevice(Config{ReplyTimeoutTicks: 4, RetryLimit: 2})
	d.SetAPN("internet")
	d.SetHostPort("example.com", 80)
	d.Connect()

	probes, sawReset := 0, false
	for tick := 0; tick < 64 && !sawReset; tick++ {
		d.Run()
		for _, c := range commandLines(s.takeTx()) {
			switch {
			case c == "AT":
				probes++
			case strings.HasPrefix(c, "AT+CFUN=1,1"):
				sawReset = true
			}
		}
	}
	if d.Phase() != PhaseGeneralError {
		t.Fatalf("phase = %v, want generalError", d.Phase())
	}
	if probes != 3 { // initial attempt + RetryLimit retries
		t.Errorf("probe attempts = %d, want 3", probes)
	}
	if !sawReset {
		t.Error("no reset command after retries exhausted")
	}
}

func TestRegistrationGivesUp(t *testing.T) {
	d, s := newTestDevice(Config{RetryLimit: 2})
	d.SetAPN("internet")
	d.SetHostPort("example.com", 80)
	d.Connect()
	expectCommand(t, d, s, "AT\r\n", "OK\r\n")
	expectCommand(t, d, s, "ATE0", "OK\r\n")
	expectCommand(t, d, s, "AT+CREG?", "+CREG: 0,0\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CREG?", "+CREG: 0,2\r\nOK\r\n")
	runTicks(d, 4)
	if d.Phase() != PhaseGeneralError {
		t.Errorf("phase = %v after registration retries, want generalError", d.Phase())
	}
}

func TestEOFSemantics(t *testing.T) {
	d, s := newTestDevice(Config{})
	connectDevice(t, d, s)

	// Deliver a window, then lose the socket: buffered data stays readable.
	s.feed("+CIPRXGET: 1,0\r\n")
	runTicks(d, 1)
	expectCommand(t, d, s, "AT+CIPRXGET=4,0", "+CIPRXGET: 4,0,2\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CIPRXGET=2,0,2", "+CIPRXGET: 2,0,2\r\nok")
	runTicks(d, 6)
	s.feed("CLOSED\r\n")
	runTicks(d, 2)

	if d.IsConnected() {
		t.Fatal("connected after close")
	}
	buf := make([]byte, 4)
	if n := d.Read(buf); n != 2 || string(buf[:2]) != "ok" {
		t.Fatalf("buffered payload lost on close: got %q", buf[:n])
	}
	if d.BytesAvailable() != 0 {
		t.Error("stream not at EOF after draining")
	}
}
