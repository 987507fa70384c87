//go:build !(rp2040 || rp2350)

// linkprobe brings a cellular link up from a host machine: attach, resolve,
// open a TCP socket, push a probe payload, and report identity and signal
// quality. Useful for exercising a modem on a USB serial adapter before
// flashing target firmware.
package main

import (
	"flag"
	"os"
	"time"

	"gsmlink-go/bufserial"
	"gsmlink-go/drivers/simcom"
)

func main() {
	var (
		port    = flag.String("port", "/dev/ttyUSB0", "serial device")
		baud    = flag.Int("baud", 115200, "baud rate")
		apn     = flag.String("apn", "internet", "GPRS access point name")
		host    = flag.String("host", "example.com", "peer host")
		dstPort = flag.Uint("dport", 80, "peer TCP port")
		dialect = flag.String("dialect", "sim800", "modem dialect: sim800 | sim7x00")
		verbose = flag.Bool("v", false, "log engine state transitions")
	)
	flag.Parse()

	var dia simcom.Dialect
	switch *dialect {
	case "sim800":
		dia = simcom.SIM800()
	case "sim7x00":
		dia = simcom.SIM7x00()
	default:
		println("unknown dialect:", *dialect)
		os.Exit(2)
	}

	ser, err := bufserial.OpenHost(*port, *baud, bufserial.HostConfig{})
	if err != nil {
		println("open serial:", err.Error())
		os.Exit(1)
	}
	defer ser.Close()

	cfg := simcom.Config{}
	if *verbose {
		cfg.Debug = func(msg string) { println("[engine]", msg) }
	}
	dev := simcom.New(ser, dia, cfg)
	dev.SetAPN(*apn)
	dev.SetHostPort(*host, uint16(*dstPort))

	if !dev.Connect() {
		println("connect refused: check -apn and -host")
		os.Exit(1)
	}

	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	deadline := time.Now().Add(90 * time.Second)

	println("[probe] connecting …")
	for !dev.IsConnected() {
		if time.Now().After(deadline) {
			println("[probe] FAIL: timeout in phase", dev.Phase().String())
			os.Exit(1)
		}
		switch dev.Phase() {
		case simcom.PhaseDNSError, simcom.PhaseGeneralError, simcom.PhaseConnectionError:
			println("[probe] FAIL: phase", dev.Phase().String())
			os.Exit(1)
		}
		<-tick.C
		dev.Run()
	}
	println("[probe] connected, local", dev.LocalIP(), "peer", dev.PeerIP())

	payload := []byte("HEAD / HTTP/1.0\r\nHost: " + *host + "\r\n\r\n")
	dev.Write(payload)

	dev.RequestRSSI()
	dev.RequestIDString(simcom.IMEI)

	buf := make([]byte, 256)
	received := 0
	idle := time.Now().Add(15 * time.Second)
	for time.Now().Before(idle) {
		<-tick.C
		dev.Run()
		if n := dev.Read(buf); n > 0 {
			os.Stdout.Write(buf[:n])
			received += n
			idle = time.Now().Add(2 * time.Second)
		}
		if !dev.IsConnected() && dev.BytesAvailable() == 0 {
			break
		}
	}
	println("\n[probe] received", received, "bytes")

	if rssi := dev.RSSI(); rssi != 0xFF {
		println("[probe] rssi index:", int(rssi))
	}
	if imei := dev.IDString(); imei != "" {
		println("[probe] imei:", imei)
	}

	dev.Disconnect()
	for i := 0; i < 400 && !dev.IsIdle(); i++ {
		<-tick.C
		dev.Run()
	}
	println("[probe] done")
}
