package simcom

import (
	"strings"
	"testing"
)

// scriptSerial is a nonblocking fake UART for driving the engine tick by
// tick: tests feed it modem output and inspect what the engine transmitted.
type scriptSerial struct {
	rx      []byte
	tx      []byte
	rxSize  int
	txSpace int
}

func newScriptSerial() *scriptSerial {
	return &scriptSerial{rxSize: 256, txSpace: 256}
}

func (s *scriptSerial) feed(data string) { s.rx = append(s.rx, data...) }

func (s *scriptSerial) BytesAvailable() int { return len(s.rx) }
func (s *scriptSerial) SpaceAvailable() int { return s.txSpace }
func (s *scriptSerial) ReadBufferSize() int { return s.rxSize }

func (s *scriptSerial) ReadByte() (byte, bool) {
	if len(s.rx) == 0 {
		return 0, false
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	return b, true
}

func (s *scriptSerial) Read(p []byte) int {
	n := copy(p, s.rx)
	s.rx = s.rx[n:]
	return n
}

func (s *scriptSerial) Write(p []byte) int {
	s.tx = append(s.tx, p...)
	return len(p)
}

func (s *scriptSerial) FlushReceiveBuffers() { s.rx = nil }

// takeTx returns and clears everything the engine transmitted so far.
func (s *scriptSerial) takeTx() string {
	out := string(s.tx)
	s.tx = s.tx[:0]
	return out
}

// commandLines extracts the AT command lines from raw TX bytes.
func commandLines(tx string) []string {
	var cmds []string
	for _, l := range strings.Split(tx, "\r\n") {
		if strings.HasPrefix(l, "AT") {
			cmds = append(cmds, l)
		}
	}
	return cmds
}

// expectCommand ticks the engine until it transmits something, then asserts
// the command prefix and optionally feeds the scripted reply.
func expectCommand(t *testing.T, d *Device, s *scriptSerial, want, reply string) {
	t.Helper()
	for i := 0; i < 64; i++ {
		d.Run()
		if len(s.tx) > 0 {
			break
		}
	}
	tx := s.takeTx()
	if !strings.HasPrefix(tx, want) {
		t.Fatalf("expected command %q, engine sent %q", want, tx)
	}
	if reply != "" {
		s.feed(reply)
	}
}

// runTicks advances the engine n ticks.
func runTicks(d *Device, n int) {
	for i := 0; i < n; i++ {
		d.Run()
	}
}

// newTestDevice builds a SIM800 engine over a fresh scripted serial.
func newTestDevice(cfg Config) (*Device, *scriptSerial) {
	s := newScriptSerial()
	return New(s, SIM800(), cfg), s
}

// connectDevice walks a device through the whole attach/DNS/open sequence and
// leaves it in the connected steady state.
func connectDevice(t *testing.T, d *Device, s *scriptSerial) {
	t.Helper()
	d.SetAPN("internet")
	d.SetHostPort("example.com", 80)
	if !d.Connect() {
		t.Fatal("Connect refused")
	}
	expectCommand(t, d, s, "AT\r\n", "OK\r\n")
	expectCommand(t, d, s, "ATE0", "OK\r\n")
	expectCommand(t, d, s, "AT+CREG?", "+CREG: 0,1\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CGATT?", "+CGATT: 1\r\nOK\r\n")
	expectCommand(t, d, s, "AT+CIPMUX=1", "OK\r\n")
	expectCommand(t, d, s, "AT+CIPRXGET=1", "OK\r\n")
	expectCommand(t, d, s, `AT+CSTT="internet"`, "OK\r\n")
	expectCommand(t, d, s, "AT+CIICR", "OK\r\n")
	expectCommand(t, d, s, "AT+CIFSR", "10.23.4.91\r\n")
	expectCommand(t, d, s, `AT+CDNSGIP="example.com"`,
		"OK\r\n+CDNSGIP: 1,\"example.com\",\"93.184.216.34\"\r\n")
	expectCommand(t, d, s, `AT+CIPSTART=0,"TCP","93.184.216.34","80"`,
		"OK\r\nCONNECT OK\r\n")
	runTicks(d, 8)
	if !d.IsConnected() {
		t.Fatalf("phase = %v after open, want connected", d.Phase())
	}
}
