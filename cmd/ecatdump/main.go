// Command ecatdump sends a single broadcast read against a live EtherCAT
// segment and prints the working counter, AL-status payload, and the raw
// socket's kernel-side packet/drop counters.
package main

import (
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kwinten-mortier/SOEM/pkg/ecat"
	"github.com/kwinten-mortier/SOEM/pkg/rawport"
)

func main() {
	iface := flag.String("iface", "eth0", "network interface bound to the EtherCAT segment")
	timeoutUs := flag.Int("timeout-us", 2000, "recv timeout in microseconds")
	register := flag.Int("register", ecat.RegALStatus, "slave register address to broadcast-read")
	flag.Parse()

	port, err := rawport.Open(*iface, 0)
	if err != nil {
		logrus.Fatalf("open %s: %v", *iface, err)
	}
	defer port.Close()

	engine := ecat.NewEngine(port, nil)

	data := make([]byte, 2)
	timeout := time.Duration(*timeoutUs) * time.Microsecond
	wkc, err := engine.BRD(0, uint16(*register), data, timeout)
	if err != nil {
		logrus.Fatalf("BRD: %v", err)
	}
	if wkc == ecat.NoFrame {
		logrus.Warnf("BRD to register %#04x: NO_FRAME (timeout after %s)", *register, timeout)
	} else {
		logrus.Infof("BRD to register %#04x: wkc=%d data=%x", *register, wkc, data)
	}

	stats, err := port.Stats()
	if err != nil {
		logrus.Errorf("socket stats: %v", err)
		return
	}
	logrus.Infof("socket stats: packets=%d drops=%d", stats.Packets, stats.Drops)
}
