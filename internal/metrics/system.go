package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemSampler samples host CPU usage and process memory/goroutine counts
// into gauges.
// Ambient observability: it carries no coordination-protocol semantics and
// runs independently of the heartbeat/RB/dispatch machinery.
type SystemSampler struct {
	mu         sync.RWMutex
	cpuPercent float64

	goroutines prometheus.Gauge
	heapAlloc  prometheus.Gauge
	cpuGauge   prometheus.Gauge
}

// NewSystemSampler registers the system gauges on the default registry.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{
		goroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_runtime_goroutines",
			Help: "Number of goroutines currently running in this node's process.",
		}),
		heapAlloc: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_runtime_heap_alloc_bytes",
			Help: "Bytes of allocated heap objects.",
		}),
		cpuGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_runtime_cpu_percent",
			Help: "Smoothed host CPU usage percentage.",
		}),
	}
}

// Sample takes one reading of goroutine count, heap allocation and host
// CPU usage. The node's background sampling loop calls it every
// SampleInterval.
func (s *SystemSampler) Sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.goroutines.Set(float64(runtime.NumGoroutine()))
	s.heapAlloc.Set(float64(mem.HeapAlloc))

	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	const alpha = 0.3
	if s.cpuPercent == 0 {
		s.cpuPercent = percents[0]
	} else {
		s.cpuPercent = alpha*percents[0] + (1-alpha)*s.cpuPercent
	}
	s.cpuGauge.Set(s.cpuPercent)
}

func (s *SystemSampler) CPUPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpuPercent
}

// Interval used by the node's background sampling loop.
const SampleInterval = 15 * time.Second
