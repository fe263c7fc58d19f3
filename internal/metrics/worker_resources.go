package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceConfig holds configuration for worker resource sampling.
type ResourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// WorkerResources samples CPU, memory and thread usage of supervised workers
// and exposes them as Prometheus gauges labeled by worker name.
type WorkerResources struct {
	enabled  bool
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	known map[string]struct{}

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewWorkerResources(cfg ResourceConfig) *WorkerResources {
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &WorkerResources{
		enabled:  cfg.Enabled,
		interval: interval,
		stopCh:   make(chan struct{}),
		known:    make(map[string]struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "idlewatch",
				Subsystem: "worker",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage per worker.",
			}, []string{"name"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "idlewatch",
				Subsystem: "worker",
				Name:      "memory_mb",
				Help:      "Resident memory in MB per worker.",
			}, []string{"name"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "idlewatch",
				Subsystem: "worker",
				Name:      "num_threads",
				Help:      "Thread count per worker.",
			}, []string{"name"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "idlewatch",
				Subsystem: "worker",
				Name:      "num_fds",
				Help:      "Open file descriptors per worker (Unix only).",
			}, []string{"name"},
		),
	}
}

// RegisterMetrics registers the resource gauges with the provided registerer.
func (c *WorkerResources) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}

	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}

	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. getWorkers reports the current name to PID
// mapping; workers missing from it have their gauges removed.
func (c *WorkerResources) Start(ctx context.Context, getWorkers func() map[string]int32) {
	if !c.enabled {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(getWorkers())
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler goroutine to exit.
func (c *WorkerResources) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *WorkerResources) collect(workers map[string]int32) {
	for name, pid := range workers {
		if pid <= 0 {
			continue
		}
		proc, err := process.NewProcess(pid)
		if err != nil {
			slog.Debug("worker resource sample failed", "name", name, "pid", pid, "error", err)
			continue
		}

		if cpu, err := proc.CPUPercent(); err == nil {
			c.cpuPercent.WithLabelValues(name).Set(cpu)
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			c.memoryMB.WithLabelValues(name).Set(float64(mem.RSS) / 1024 / 1024)
		}
		if threads, err := proc.NumThreads(); err == nil {
			c.numThreads.WithLabelValues(name).Set(float64(threads))
		}
		if runtime.GOOS != "windows" {
			if fds, err := proc.NumFDs(); err == nil {
				c.numFDs.WithLabelValues(name).Set(float64(fds))
			}
		}
	}

	// Drop gauges for workers that disappeared since the last sample.
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.known {
		if _, ok := workers[name]; !ok {
			c.cpuPercent.DeleteLabelValues(name)
			c.memoryMB.DeleteLabelValues(name)
			c.numThreads.DeleteLabelValues(name)
			c.numFDs.DeleteLabelValues(name)
		}
	}
	c.known = make(map[string]struct{}, len(workers))
	for name := range workers {
		c.known[name] = struct{}{}
	}
}
