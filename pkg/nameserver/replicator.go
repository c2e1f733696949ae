package nameserver

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/quillfs/quill/pkg/client"
	"github.com/quillfs/quill/pkg/events"
	"github.com/quillfs/quill/pkg/log"
	"github.com/quillfs/quill/pkg/metrics"
	"github.com/quillfs/quill/pkg/proto"
)

type replicationJob struct {
	addr string
	msg  *proto.Message
}

// Replicator ships successful write ops to replica nodes on a small
// worker pool. Delivery is fire-and-forget: no acknowledgement, no
// retry, no ordering guarantee relative to the client response.
type Replicator struct {
	jobs   chan replicationJob
	broker *events.Broker
	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReplicator sizes the pool. broker may be nil.
func NewReplicator(workers int, broker *events.Broker) *Replicator {
	if workers < 1 {
		workers = 1
	}
	r := &Replicator{
		jobs:   make(chan replicationJob, 64),
		broker: broker,
		logger: log.WithComponent("replicator"),
		stopCh: make(chan struct{}),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

// Enqueue submits one replication job. A full queue drops the job;
// replicas are eventually consistent at best.
func (r *Replicator) Enqueue(addr string, msg *proto.Message) {
	select {
	case r.jobs <- replicationJob{addr: addr, msg: msg}:
	default:
		metrics.ReplicationsShipped.WithLabelValues("dropped").Inc()
		r.logger.Warn().Str("addr", addr).Str("op", msg.Op).Msg("replication queue full, dropping")
	}
}

// Stop drains nothing: pending jobs are abandoned.
func (r *Replicator) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Replicator) worker() {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.jobs:
			r.ship(job)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Replicator) ship(job replicationJob) {
	resp, err := client.Call(job.addr, job.msg)
	if err != nil || resp.Status != proto.StatusOK {
		metrics.ReplicationsShipped.WithLabelValues("error").Inc()
		r.logger.Warn().Err(err).Str("addr", job.addr).Str("op", job.msg.Op).Msg("replication failed")
		if r.broker != nil {
			r.broker.Publish(events.New(events.EventReplicaFailed, "replication failed",
				map[string]string{"addr": job.addr, "op": job.msg.Op, "file": job.msg.File}))
		}
		return
	}
	metrics.ReplicationsShipped.WithLabelValues("ok").Inc()
	if r.broker != nil {
		r.broker.Publish(events.New(events.EventReplicaShipped, "replication shipped",
			map[string]string{"addr": job.addr, "op": job.msg.Op, "file": job.msg.File}))
	}
}
