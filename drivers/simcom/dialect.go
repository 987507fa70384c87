package simcom

import "gsmlink-go/x/conv"

// Dialect binds the handful of command literals and notification prefixes that
// differ between SIMCom firmware families. The engine is otherwise
// dialect-agnostic.
type Dialect struct {
	Name string

	// EchoOff silences command echo, issued right after the probe.
	EchoOff string

	// SetupExtra runs after network attach and before APN programming.
	SetupExtra []string

	// AppendSetAPN appends the APN-programming command to buf.
	AppendSetAPN func(buf []byte, apn string) []byte

	// ActivateBearer brings up the packet bearer.
	ActivateBearer string

	// QueryOwnIP reads back the address assigned by the bearer.
	QueryOwnIP string

	// AppendOpenSocket appends the TCP open command for ip:port to buf.
	AppendOpenSocket func(buf []byte, ip []byte, port uint16) []byte

	// CloseSocket tears down the data socket.
	CloseSocket string

	// ConnectConfirm is the literal announcing a successful socket open.
	ConnectConfirm string

	// ClosedPrefix announces socket teardown, solicited or not.
	ClosedPrefix string

	// SendConfirm acknowledges a completed CIPSEND burst.
	SendConfirm string

	// MaxReceiveSize caps a single CIPRXGET=2 window grant.
	MaxReceiveSize int
}

// SIM800 returns the dialect for the SIM800/SIM900 family (CSTT/CIICR bearer,
// CLOSED teardown notification).
func SIM800() Dialect {
	return Dialect{
		Name:    "SIM800",
		EchoOff: "ATE0",
		SetupExtra: []string{
			"AT+CIPMUX=1",
			"AT+CIPRXGET=1",
		},
		AppendSetAPN: func(buf []byte, apn string) []byte {
			buf = append(buf, `AT+CSTT="`...)
			buf = append(buf, apn...)
			return append(buf, '"')
		},
		ActivateBearer: "AT+CIICR",
		QueryOwnIP:     "AT+CIFSR",
		AppendOpenSocket: func(buf []byte, ip []byte, port uint16) []byte {
			buf = append(buf, `AT+CIPSTART=0,"TCP","`...)
			buf = append(buf, ip...)
			buf = append(buf, `","`...)
			buf = conv.AppendUint(buf, uint32(port))
			return append(buf, '"')
		},
		CloseSocket:    "AT+CIPCLOSE=0",
		ConnectConfirm: "CONNECT OK",
		ClosedPrefix:   "CLOSED",
		SendConfirm:    "SEND OK",
		MaxReceiveSize: 1460,
	}
}

// SIM7x00 returns the dialect for the SIM7500/SIM7600 family (CGSOCKCONT/
// NETOPEN bearer, CIPOPEN socket handling, +IPCLOSE teardown notification).
func SIM7x00() Dialect {
	return Dialect{
		Name:    "SIM7x00",
		EchoOff: "ATE0",
		SetupExtra: []string{
			"AT+CIPRXGET=1",
		},
		AppendSetAPN: func(buf []byte, apn string) []byte {
			buf = append(buf, `AT+CGSOCKCONT=1,"IP","`...)
			buf = append(buf, apn...)
			return append(buf, '"')
		},
		ActivateBearer: "AT+NETOPEN",
		QueryOwnIP:     "AT+IPADDR",
		AppendOpenSocket: func(buf []byte, ip []byte, port uint16) []byte {
			buf = append(buf, `AT+CIPOPEN=0,"TCP","`...)
			buf = append(buf, ip...)
			buf = append(buf, `",`...)
			return conv.AppendUint(buf, uint32(port))
		},
		CloseSocket:    "AT+CIPCLOSE=0",
		ConnectConfirm: "+CIPOPEN: 0,0",
		ClosedPrefix:   "+IPCLOSE: 0",
		SendConfirm:    "+CIPSEND: 0",
		MaxReceiveSize: 1500,
	}
}
