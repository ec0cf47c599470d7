package metrics

import "github.com/prometheus/client_golang/prometheus"

// UsageSample is one resource reading for a running child.
type UsageSample struct {
	Name       string
	CPUPercent float64
	RSSBytes   uint64
	Threads    int32
}

// UsageSource yields fresh samples on every scrape.
type UsageSource interface {
	UsageSamples() []UsageSample
}

// UsageCollector exports CPU, memory and thread gauges for running children.
// Samples are taken at scrape time, so there is no background poller.
type UsageCollector struct {
	src     UsageSource
	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	threads *prometheus.Desc
}

func NewUsageCollector(src UsageSource) *UsageCollector {
	labels := []string{"name"}
	return &UsageCollector{
		src:     src,
		cpu:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "cpu_percent"), "CPU usage percent of the child.", labels, nil),
		rss:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "memory_rss_bytes"), "Resident set size of the child.", labels, nil),
		threads: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "threads"), "Thread count of the child.", labels, nil),
	}
}

func (c *UsageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
}

func (c *UsageCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.UsageSamples() {
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, s.CPUPercent, s.Name)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(s.RSSBytes), s.Name)
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(s.Threads), s.Name)
	}
}
