package nameserver

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/quillfs/quill/pkg/log"
)

// Detector is the failure detector: a single background loop that
// sweeps the membership table and marks nodes down once their last
// heartbeat is older than the timeout. Detection is advisory; route
// lookups do the actual failover.
type Detector struct {
	cluster  *Cluster
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDetector creates a detector over the cluster state.
func NewDetector(cluster *Cluster, interval, timeout time.Duration) *Detector {
	return &Detector{
		cluster:  cluster,
		interval: interval,
		timeout:  timeout,
		logger:   log.WithComponent("detector"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (d *Detector) Start() {
	go d.run()
}

// Stop terminates the loop and waits for it to exit.
func (d *Detector) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Detector) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Detector) sweep() {
	for _, id := range d.cluster.Sweep(d.timeout) {
		d.logger.Warn().Str("ss_id", id).Dur("timeout", d.timeout).Msg("node marked down")
	}
}
