package metrics

import (
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is a point-in-time view of this server process, served by the
// health endpoint.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`
}

var (
	selfOnce sync.Once
	self     *process.Process
	selfErr  error
)

func selfProcess() (*process.Process, error) {
	selfOnce.Do(func() {
		self, selfErr = process.NewProcess(int32(os.Getpid()))
	})
	return self, selfErr
}

// ReadProcessStats samples memory, CPU and thread count for the current
// process. Fields that the platform cannot report are left zero.
func ReadProcessStats() (ProcessStats, error) {
	p, err := selfProcess()
	if err != nil {
		return ProcessStats{}, err
	}

	stats := ProcessStats{PID: p.Pid}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		stats.Threads = n
	}
	return stats, nil
}

// ProcessCollector exports ReadProcessStats as gauges on every scrape.
type ProcessCollector struct {
	rss     *prometheus.Desc
	cpu     *prometheus.Desc
	threads *prometheus.Desc
}

// NewProcessCollector creates the collector. Names are prefixed so they do
// not collide with the default Go process collector.
func NewProcessCollector() *ProcessCollector {
	return &ProcessCollector{
		rss: prometheus.NewDesc("erp_realtime_process_rss_bytes",
			"Resident set size of the realtime server", nil, nil),
		cpu: prometheus.NewDesc("erp_realtime_process_cpu_percent",
			"CPU usage of the realtime server since start", nil, nil),
		threads: prometheus.NewDesc("erp_realtime_process_threads",
			"OS threads used by the realtime server", nil, nil),
	}
}

func (c *ProcessCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rss
	ch <- c.cpu
	ch <- c.threads
}

func (c *ProcessCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := ReadProcessStats()
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(stats.RSSBytes))
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, stats.CPUPercent)
	ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(stats.Threads))
}
