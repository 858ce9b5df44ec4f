package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inkframe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status API requests.",
		},
		[]string{"device", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inkframe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device", "method", "path", "status"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inkframe",
			Subsystem: "protocol",
			Name:      "packets_total",
			Help:      "Completed or rejected packets by type and result.",
		},
		[]string{"device", "type", "result"},
	)
	payloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inkframe",
			Subsystem: "protocol",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes of completed packets.",
		},
		[]string{"device", "type"},
	)
	memoryRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inkframe",
			Subsystem: "protocol",
			Name:      "memory_rejections_total",
			Help:      "Payload allocations refused by the heap budget.",
		},
		[]string{"device", "reason"},
	)
	framingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inkframe",
			Subsystem: "protocol",
			Name:      "framing_errors_total",
			Help:      "Chunks discarded while waiting for a header.",
		},
		[]string{"device", "reason"},
	)
	decodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inkframe",
			Subsystem: "codec",
			Name:      "decode_duration_seconds",
			Help:      "Time to apply a packet to the frame buffer.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"device", "type", "success"},
	)
	heapFree = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "inkframe",
			Subsystem: "heap",
			Name:      "free_bytes",
			Help:      "Free bytes and largest free block of the device heap.",
		},
		[]string{"device", "kind"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inkframe",
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Transport dial attempts by outcome.",
		},
		[]string{"device", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			packets, payloadBytes, memoryRejections, framingErrors, decodeDuration,
			heapFree, reconnects,
		)
	})
}

func RecordHTTPRequest(device, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(device, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(device, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordPacket counts a finished packet. result is "ack" or "nak".
func RecordPacket(device, packetType, result string, payloadLen int) {
	RegisterMetrics()
	packets.WithLabelValues(device, packetType, result).Inc()
	if payloadLen > 0 {
		payloadBytes.WithLabelValues(device, packetType).Add(float64(payloadLen))
	}
}

func RecordMemoryRejection(device, reason string) {
	RegisterMetrics()
	memoryRejections.WithLabelValues(device, reason).Inc()
}

func RecordFramingError(device, reason string) {
	RegisterMetrics()
	framingErrors.WithLabelValues(device, reason).Inc()
}

func RecordDecode(device, packetType string, duration time.Duration, success bool) {
	RegisterMetrics()
	decodeDuration.WithLabelValues(device, packetType, strconv.FormatBool(success)).
		Observe(duration.Seconds())
}

func RecordHeap(device string, free, largest int) {
	RegisterMetrics()
	heapFree.WithLabelValues(device, "total").Set(float64(free))
	heapFree.WithLabelValues(device, "largest_block").Set(float64(largest))
}

func RecordDial(device string, ok bool) {
	RegisterMetrics()
	outcome := "failed"
	if ok {
		outcome = "connected"
	}
	reconnects.WithLabelValues(device, outcome).Inc()
}
