// Command ecatloop runs a fixed-rate process-data exchange cycle against
// a live EtherCAT segment: each tick builds the 5-datagram composite
// frame (NOP/ARMW/LRD/LRW/BRD), reports wkc and AL-status, and exits on
// the first NO_FRAME or interrupt signal.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/kwinten-mortier/SOEM/pkg/ecat"
	"github.com/kwinten-mortier/SOEM/pkg/metrics"
	"github.com/kwinten-mortier/SOEM/pkg/rawport"
)

func main() {
	iface := flag.String("iface", "eth0", "network interface bound to the EtherCAT segment")
	logAddr := flag.Uint("log-addr", 0x01000000, "logical address of the process-data image")
	imageLen := flag.Int("image-len", 10, "process-data image length in bytes")
	cyclePeriod := flag.Duration("cycle", time.Millisecond, "process-data cycle period")
	timeoutUs := flag.Int("timeout-us", 2000, "recv timeout in microseconds, per cycle")
	flag.Parse()

	port, err := rawport.Open(*iface, 0)
	if err != nil {
		logrus.Fatalf("open %s: %v", *iface, err)
	}
	defer port.Close()

	collector := metrics.New("ecatloop", prometheus.Labels{"iface": *iface})
	prometheus.MustRegister(collector)

	engine := ecat.NewEngine(port, collector)

	pd := &ecat.ProcessData{Image: make([]byte, *imageLen)}
	timeout := time.Duration(*timeoutUs) * time.Microsecond

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*cyclePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			logrus.Info("shutting down")
			return
		case <-ticker.C:
			wkc, err := engine.ProcessDataExchange(uint32(*logAddr), pd, time.Now(), timeout)
			if err != nil {
				logrus.Errorf("process-data exchange: %v", err)
				return
			}
			if wkc == ecat.NoFrame {
				logrus.Warn("process-data cycle: NO_FRAME, stopping")
				return
			}
			logrus.Debugf("cycle: wkc=%d al-status=%#04x", wkc, pd.ALStatus)
		}
	}
}
