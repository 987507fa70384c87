// Package simcom implements a TCP-over-AT session engine for SIMCom cellular
// modems (SIM800 and SIM7x00 families). The engine is a nonblocking state
// machine driven by a periodic Run tick from the host's cooperative scheduler:
// each tick ingests UART bytes, advances reply parsing, and emits at most one
// AT command. Application data moves through two SPSC rings; the engine owns
// exactly one data socket at a time.
//
// One Device is instanced per modem per UART; independent sessions run as
// independent Devices. No memory is allocated after New.
package simcom

import (
	"gsmlink-go/x/cbuf"
)

// ConnectionPhase is the application-visible session phase. Error phases latch
// until Disconnect followed by a fresh Connect.
type ConnectionPhase uint8

const (
	PhaseNotConnected ConnectionPhase = iota
	PhaseConnecting
	PhaseIntermediate
	PhaseConnected
	PhaseConnectionError
	PhaseDNSError
	PhaseGeneralError
)

func (p ConnectionPhase) String() string {
	switch p {
	case PhaseNotConnected:
		return "notConnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseIntermediate:
		return "intermediate"
	case PhaseConnected:
		return "connected"
	case PhaseConnectionError:
		return "connectionError"
	case PhaseDNSError:
		return "dnsError"
	case PhaseGeneralError:
		return "generalError"
	default:
		return "unknown"
	}
}

// IDRequest selects which identity string RequestIDString queries.
type IDRequest uint8

const (
	NoRequest IDRequest = iota
	Manufacturer
	Model
	IMEI
	IMSI
)

// State flags, packed into one word so ISR-context readers see a coherent
// snapshot.
const (
	flagLineRead uint16 = 1 << iota
	flagIPConnected
	flagDataPending
	flagDisconnectPending
	flagConnectPending
	flagResetPending
	flagSerialLocked
)

const (
	lineMaxLength     = 64
	idStringMaxLength = 32
	ipMaxLength       = 15 // dotted quad

	// TX envelope reserved around a CIPSEND burst: command, length digits,
	// prompt handling and trailing CRLFs.
	sendEnvelope = 22

	// RX slack left for the +CIPRXGET: 2,0,<n> header preceding payload.
	rxHeaderSlack = 8

	rssiUnknown  = 99
	rssiInFlight = 0xFF

	okStr     = "OK"
	promptStr = ">"
)

// sendState enumerates the command-sending sub-machine.
type sendState uint8

const (
	sendIdle sendState = iota
	sendProbe
	sendEchoOff
	sendNetworkReg
	sendGPRSAttach
	sendSetupExtra
	sendSetAPN
	sendActivateBearer
	sendQueryOwnIP
	sendAwaitOwnIP
	sendDNSLookup
	sendAwaitDNS
	sendOpenSocket
	sendConnectedIdle
	sendDataPrompt
	sendClosing
	sendResetting
)

// replyState enumerates what the reply sub-machine is parsing for.
type replyState uint8

const (
	replyIdle replyState = iota
	replyNetworkReg
	replyGPRSAttach
	replyOwnIP
	replyDNS
	replyCiprxget4
	replyCiprxget2
	replyCSQ
	replyID
)

// Config carries construction-time tunables. Zero values select defaults.
type Config struct {
	// ReadBufferSize and WriteBufferSize set the application-facing rings.
	ReadBufferSize  int // default 1024
	WriteBufferSize int // default 1024

	// RetryLimit bounds silent retries of a failed or timed-out command
	// before the phase latches to generalError.
	RetryLimit int // default 3

	// ReplyTimeoutTicks is the per-command reply deadline in Run ticks.
	ReplyTimeoutTicks int // default 2000

	// Debug, when set, receives one short line per engine state transition.
	// Must not block.
	Debug func(msg string)
}

func (c *Config) applyDefaults() {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1024
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 1024
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	if c.ReplyTimeoutTicks <= 0 {
		c.ReplyTimeoutTicks = 2000
	}
}

// Device is the session engine for one modem on one UART.
type Device struct {
	serial  BufferedSerial
	dialect Dialect
	cfg     Config

	readBuf  *cbuf.Ring[byte] // modem -> application
	writeBuf *cbuf.Ring[byte] // application -> modem

	lineBuf  [lineMaxLength]byte
	lineFill int

	flags uint16
	phase ConnectionPhase

	sendState  sendState
	replyState replyState

	// waitForReply is the token the next reply line must start with before
	// the send machine advances; empty means no command in flight.
	waitForReply string
	issuedFrom   sendState // state to re-enter when the command is retried
	replyTicks   int
	retries      int

	bytesToWrite   int // staged for the current CIPSEND burst
	bytesToReceive int // announced by the modem, not yet granted
	bytesToRead    int // granted binary bytes still to vacuum from the UART

	setupIdx      int
	regRetries    int
	attachRetries int
	netRegistered bool
	gprsAttached  bool

	apn  string
	host string
	port uint16

	ip       [ipMaxLength]byte // resolved peer address
	ipLen    int
	localIP  [ipMaxLength]byte // address assigned by the bearer
	localLen int

	rssi      uint8
	idRequest IDRequest
	idString  [idStringMaxLength]byte
	idLen     int

	scratch [lineMaxLength + 48]byte // command assembly, sized for host+template
}

// New constructs an engine over serial speaking the given dialect. All buffers
// are allocated here; Run never allocates.
func New(serial BufferedSerial, dialect Dialect, cfg Config) *Device {
	cfg.applyDefaults()
	d := &Device{
		serial:   serial,
		dialect:  dialect,
		cfg:      cfg,
		readBuf:  cbuf.New[byte](cfg.ReadBufferSize),
		writeBuf: cbuf.New[byte](cfg.WriteBufferSize),
	}
	d.ResetStates()
	return d
}

// ResetStates rewinds every counter, flag and sub-state, and flushes the
// application rings and the serial receive queue.
func (d *Device) ResetStates() {
	d.serial.FlushReceiveBuffers()
	d.readBuf.Flush()
	d.writeBuf.Flush()
	d.lineFill = 0
	d.sendState = sendIdle
	d.replyState = replyIdle
	d.phase = PhaseNotConnected
	d.waitForReply = ""
	d.replyTicks = 0
	d.retries = 0
	d.bytesToWrite = 0
	d.bytesToReceive = 0
	d.bytesToRead = 0
	d.setupIdx = 0
	d.regRetries = 0
	d.attachRetries = 0
	d.netRegistered = false
	d.gprsAttached = false
	d.flags = flagLineRead
	d.ipLen = 0
	d.localLen = 0
	d.rssi = rssiUnknown
	d.idRequest = NoRequest
	d.idLen = 0
}

func (d *Device) setFlag(f uint16)      { d.flags |= f }
func (d *Device) clearFlag(f uint16)    { d.flags &^= f }
func (d *Device) hasFlag(f uint16) bool { return d.flags&f != 0 }

func (d *Device) debugf(msg string) {
	if d.cfg.Debug != nil {
		d.cfg.Debug(msg)
	}
}
