package nameserver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillfs/quill/pkg/events"
	"github.com/quillfs/quill/pkg/proto"
	"github.com/quillfs/quill/pkg/types"
)

func requestMapKey(file, requester string) string {
	return file + "\x00" + requester
}

// RequestAccess records a pending ask for read access. A duplicate for
// the same (file, requester) fails with a conflict.
func (c *Cluster) RequestAccess(file, requester, owner string) error {
	if file == "" || requester == "" {
		return fmt.Errorf("%w: file and requester required", proto.ErrBadRequest)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := requestMapKey(file, requester)
	if _, exists := c.requests[key]; exists {
		return fmt.Errorf("%w: request already pending", proto.ErrConflict)
	}
	r := &types.AccessRequest{
		ID:        uuid.New().String(),
		File:      file,
		Requester: requester,
		Owner:     owner,
		CreatedAt: time.Now(),
	}
	c.requests[key] = r
	if c.store != nil {
		if err := c.store.SaveRequest(r); err != nil {
			c.logger.Warn().Err(err).Str("file", file).Msg("persist access request")
		}
	}
	c.publish(events.New(events.EventAccessRequest, "access requested",
		map[string]string{"file": file, "requester": requester}))
	return nil
}

// PendingFor renders the pending requests owned by user as
// "file:requester" pairs joined by ";;".
func (c *Cluster) PendingFor(owner string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []string
	for _, r := range c.requests {
		if r.Owner == owner {
			entries = append(entries, r.File+":"+r.Requester)
		}
	}
	sort.Strings(entries)
	return strings.Join(entries, ";;")
}

// Respond resolves a pending request. Only the recorded owner may
// respond; the request is removed either way and returned so the caller
// can grant access on approval.
func (c *Cluster) Respond(file, requester, actor string) (*types.AccessRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := requestMapKey(file, requester)
	r, ok := c.requests[key]
	if !ok {
		return nil, fmt.Errorf("%w: request not found", proto.ErrNotFound)
	}
	if r.Owner != actor {
		return nil, fmt.Errorf("%w: only the owner may respond", proto.ErrUnauthorized)
	}
	delete(c.requests, key)
	if c.store != nil {
		if err := c.store.DeleteRequest(file, requester); err != nil {
			c.logger.Warn().Err(err).Str("file", file).Msg("drop access request")
		}
	}
	return r, nil
}
