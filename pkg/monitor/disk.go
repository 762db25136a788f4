package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DiskMonitor reports the size of the persistent cache directory.
// Walking the directory is cached for a short interval.
type DiskMonitor struct {
	dir           string
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewDiskMonitor watches dir.
func NewDiskMonitor(dir string) *DiskMonitor {
	return &DiskMonitor{
		dir:           dir,
		cacheDuration: 10 * time.Second,
	}
}

// Usage returns the bytes allocated under the directory.
func (dm *DiskMonitor) Usage() (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !dm.lastCheck.IsZero() && time.Since(dm.lastCheck) < dm.cacheDuration {
		return dm.cachedUsage, nil
	}

	usage, err := dirSize(dm.dir)
	if err != nil {
		return 0, err
	}
	dm.cachedUsage = usage
	dm.lastCheck = time.Now()
	return usage, nil
}

// Register exposes the usage as a gauge. Walk errors report -1.
func (dm *DiskMonitor) Register(reg prometheus.Registerer) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "persist_bytes",
		Help:      "Disk space used by the persistent forecast cache.",
	}, func() float64 {
		usage, err := dm.Usage()
		if err != nil {
			return -1
		}
		return float64(usage)
	}))
}

// dirSize sums allocated (not logical) file sizes so sparse value logs are
// not over-reported.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			if actual, err := allocatedSize(filePath, info); err == nil {
				size += actual
			} else {
				size += info.Size()
			}
		}
		return nil
	})
	return size, err
}
