package storageserver

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/quillfs/quill/pkg/client"
	"github.com/quillfs/quill/pkg/log"
	"github.com/quillfs/quill/pkg/proto"
)

// Heartbeater periodically tells the name server this node is alive.
// Each beat is a short-lived connection, matching registration.
type Heartbeater struct {
	ssID     string
	nmAddr   string
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHeartbeater creates a heartbeater for one storage node.
func NewHeartbeater(ssID, nmAddr string, interval time.Duration) *Heartbeater {
	return &Heartbeater{
		ssID:     ssID,
		nmAddr:   nmAddr,
		interval: interval,
		logger:   log.WithNodeID(ssID),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the heartbeat loop.
func (h *Heartbeater) Start() {
	go h.loop()
}

// Stop terminates the loop and waits for it to exit.
func (h *Heartbeater) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *Heartbeater) loop() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.beat()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Heartbeater) beat() {
	resp, err := client.Call(h.nmAddr, &proto.Message{Op: proto.OpSSHeartbeat, SSID: h.ssID})
	if err != nil {
		h.logger.Warn().Err(err).Msg("heartbeat failed")
		return
	}
	if resp.Op == proto.OpSSBackOnline {
		h.logger.Info().Msg("name server reports this node back online")
	}
}
