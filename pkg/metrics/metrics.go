// Package metrics is a prometheus.Collector wired to an ecat.Engine's
// transactions, following the teacher's exporter package: a
// mutex-guarded map of counters, rebuilt into prometheus.Metric values
// on every Collect rather than pushed eagerly.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kwinten-mortier/SOEM/pkg/wire"
)

type commandStats struct {
	transactions uint64
	noFrames     uint64
	wkcSum       uint64
	wkcZero      uint64
}

// Collector implements ecat.Recorder and prometheus.Collector: pass it
// as the Recorder argument to ecat.NewEngine to get per-primitive
// transaction counts, a NO_FRAME (timeout) counter, and a WKC-sum
// counter from which an average working counter can be derived.
type Collector struct {
	prefix      string
	constLabels prometheus.Labels

	mu    sync.Mutex
	stats map[byte]*commandStats

	descTransactions *prometheus.Desc
	descNoFrame      *prometheus.Desc
	descWKCSum       *prometheus.Desc
	descWKCZero      *prometheus.Desc
}

// New builds a Collector. prefix namespaces the exported metric names
// (e.g. "ecat"); constLabels are attached to every series (e.g.
// {interface="eth0"}).
func New(prefix string, constLabels prometheus.Labels) *Collector {
	variableLabels := []string{"command"}
	return &Collector{
		prefix:      prefix,
		constLabels: constLabels,
		stats:       make(map[byte]*commandStats),
		descTransactions: prometheus.NewDesc(
			fmt.Sprintf("%s_transactions_total", prefix),
			"Transactions completed per EtherCAT command.",
			variableLabels, constLabels),
		descNoFrame: prometheus.NewDesc(
			fmt.Sprintf("%s_no_frame_total", prefix),
			"Transactions that timed out or received a mismatched reply index (NO_FRAME).",
			variableLabels, constLabels),
		descWKCSum: prometheus.NewDesc(
			fmt.Sprintf("%s_wkc_sum", prefix),
			"Sum of working counters returned across all transactions (excludes NO_FRAME).",
			variableLabels, constLabels),
		descWKCZero: prometheus.NewDesc(
			fmt.Sprintf("%s_wkc_zero_total", prefix),
			"Transactions that completed with wkc=0 (no slave serviced the datagram).",
			variableLabels, constLabels),
	}
}

// ObserveTransaction implements ecat.Recorder.
func (c *Collector) ObserveTransaction(command byte, wkc int, noFrame bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[command]
	if !ok {
		s = &commandStats{}
		c.stats[command] = s
	}
	s.transactions++
	if noFrame {
		s.noFrames++
		return
	}
	s.wkcSum += uint64(wkc)
	if wkc == 0 {
		s.wkcZero++
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.descTransactions
	descs <- c.descNoFrame
	descs <- c.descWKCSum
	descs <- c.descWKCZero
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for command, s := range c.stats {
		label := commandName(command)
		metrics <- prometheus.MustNewConstMetric(c.descTransactions, prometheus.CounterValue, float64(s.transactions), label)
		metrics <- prometheus.MustNewConstMetric(c.descNoFrame, prometheus.CounterValue, float64(s.noFrames), label)
		metrics <- prometheus.MustNewConstMetric(c.descWKCSum, prometheus.CounterValue, float64(s.wkcSum), label)
		metrics <- prometheus.MustNewConstMetric(c.descWKCZero, prometheus.CounterValue, float64(s.wkcZero), label)
	}
}

func commandName(command byte) string {
	switch command {
	case wire.BRD:
		return "BRD"
	case wire.BWR:
		return "BWR"
	case wire.APRD:
		return "APRD"
	case wire.APWR:
		return "APWR"
	case wire.ARMW:
		return "ARMW"
	case wire.FPRD:
		return "FPRD"
	case wire.FPWR:
		return "FPWR"
	case wire.FRMW:
		return "FRMW"
	case wire.LRD:
		return "LRD"
	case wire.LWR:
		return "LWR"
	case wire.LRW:
		return "LRW"
	case wire.NOP:
		return "NOP"
	default:
		return fmt.Sprintf("0x%02x", command)
	}
}
