package nameserver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quillfs/quill/pkg/events"
	"github.com/quillfs/quill/pkg/log"
	"github.com/quillfs/quill/pkg/metrics"
	"github.com/quillfs/quill/pkg/proto"
	"github.com/quillfs/quill/pkg/types"
)

// Cluster owns the name server's shared tables: registered storage
// nodes, file routes, known users, and pending access requests. One
// mutex covers all of them; handlers and the failure detector go
// through these methods only.
type Cluster struct {
	mu       sync.Mutex
	nodes    map[string]*types.StorageNode
	order    []string // node ids in registration order, for replica pairing
	routes   map[string]string
	users    map[string]struct{}
	requests map[string]*types.AccessRequest

	store  *Store
	broker *events.Broker
	logger zerolog.Logger
}

// NewCluster builds the cluster state, reloading whatever the store
// remembers from a previous run. Both store and broker may be nil.
func NewCluster(store *Store, broker *events.Broker) (*Cluster, error) {
	c := &Cluster{
		nodes:    make(map[string]*types.StorageNode),
		routes:   make(map[string]string),
		users:    make(map[string]struct{}),
		requests: make(map[string]*types.AccessRequest),
		store:    store,
		broker:   broker,
		logger:   log.WithComponent("cluster"),
	}
	if store == nil {
		return c, nil
	}

	nodes, err := store.Nodes()
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	for _, n := range nodes {
		// A restarted name server has no fresh heartbeats; nodes prove
		// themselves alive again.
		n.Status = types.NodeDown
		c.nodes[n.ID] = n
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].RegisteredAt.Before(nodes[j].RegisteredAt) })
	for _, n := range nodes {
		c.order = append(c.order, n.ID)
	}

	routes, err := store.Routes()
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	for _, r := range routes {
		c.routes[r.File] = r.PrimaryID
	}

	users, err := store.Users()
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		c.users[u] = struct{}{}
	}

	reqs, err := store.Requests()
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	for _, r := range reqs {
		c.requests[requestMapKey(r.File, r.Requester)] = r
	}

	c.updateGauges()
	return c, nil
}

func (c *Cluster) publish(e *events.Event) {
	if c.broker != nil {
		c.broker.Publish(e)
	}
}

func (c *Cluster) persistNode(n *types.StorageNode) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveNode(n); err != nil {
		c.logger.Warn().Err(err).Str("ss_id", n.ID).Msg("persist node")
	}
}

func (c *Cluster) persistRoute(file, primary string) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveRoute(types.FileRoute{File: file, PrimaryID: primary}); err != nil {
		c.logger.Warn().Err(err).Str("file", file).Msg("persist route")
	}
}

// updateGauges refreshes the node liveness and route-count gauges.
// Caller holds the mutex.
func (c *Cluster) updateGauges() {
	alive, down := 0, 0
	for _, n := range c.nodes {
		if n.Alive() {
			alive++
		} else {
			down++
		}
	}
	metrics.NodesTotal.WithLabelValues(string(types.NodeAlive)).Set(float64(alive))
	metrics.NodesTotal.WithLabelValues(string(types.NodeDown)).Set(float64(down))
	metrics.RoutesTotal.Set(float64(len(c.routes)))
}

// Register inserts a node or, for a known id, refreshes its endpoints
// and marks it alive. A brand-new node becomes the replica of the most
// recently registered node that has no replication role yet. Every
// reported file is mapped to this node as primary.
func (c *Cluster) Register(id, host string, clientPort, nmPort int, files []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	n, known := c.nodes[id]
	if known {
		n.Host = host
		n.ClientPort = clientPort
		n.NMPort = nmPort
		n.Status = types.NodeAlive
		n.LastHeartbeat = now
		c.logger.Info().Str("ss_id", id).Msg("node re-registered")
	} else {
		n = &types.StorageNode{
			ID:            id,
			Host:          host,
			ClientPort:    clientPort,
			NMPort:        nmPort,
			Status:        types.NodeAlive,
			LastHeartbeat: now,
			RegisteredAt:  now,
		}
		if len(c.order) > 0 {
			prev := c.nodes[c.order[len(c.order)-1]]
			if prev != nil && prev.ReplicaOf == "" && prev.ID != id {
				n.ReplicaOf = prev.ID
				c.logger.Info().Str("ss_id", id).Str("primary", prev.ID).Msg("node paired as replica")
			}
		}
		c.nodes[id] = n
		c.order = append(c.order, id)
		c.logger.Info().Str("ss_id", id).Str("host", host).Int("port", clientPort).Msg("node registered")
	}
	c.persistNode(n)

	for _, f := range files {
		if f == "" {
			continue
		}
		c.routes[f] = id
		c.persistRoute(f, id)
	}

	c.updateGauges()
	c.publish(events.New(events.EventNodeRegistered, "storage node registered",
		map[string]string{"ss_id": id}))
}

// Heartbeat refreshes a node's liveness stamp. It reports whether the
// node was considered down, so the caller can acknowledge the return.
func (c *Cluster) Heartbeat(id string) (wasDown bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[id]
	if !ok {
		return false, fmt.Errorf("%w: unknown node %s", proto.ErrNotFound, id)
	}
	n.LastHeartbeat = time.Now()
	if !n.Alive() {
		n.Status = types.NodeAlive
		wasDown = true
		c.persistNode(n)
		c.updateGauges()
		c.logger.Info().Str("ss_id", id).Msg("node back online")
		c.publish(events.New(events.EventNodeBackOnline, "storage node back online",
			map[string]string{"ss_id": id}))
	}
	return wasDown, nil
}

// Sweep marks every live node whose last heartbeat is older than
// timeout as down and returns their ids.
func (c *Cluster) Sweep(timeout time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var marked []string
	for _, n := range c.nodes {
		if n.Alive() && now.Sub(n.LastHeartbeat) > timeout {
			n.Status = types.NodeDown
			marked = append(marked, n.ID)
			c.persistNode(n)
			c.publish(events.New(events.EventNodeDown, "storage node missed heartbeats",
				map[string]string{"ss_id": n.ID}))
		}
	}
	if len(marked) > 0 {
		c.updateGauges()
	}
	sort.Strings(marked)
	return marked
}

// replicaOf returns the node replicating primaryID, if any. Caller
// holds the mutex.
func (c *Cluster) replicaOf(primaryID string) *types.StorageNode {
	for _, id := range c.order {
		n := c.nodes[id]
		if n != nil && n.ReplicaOf == primaryID {
			return n
		}
	}
	return nil
}

// Route resolves a file to a live endpoint: the primary while it is
// alive, else its replica. Detection is advisory; nothing is promoted.
func (c *Cluster) Route(file string) (types.ResolvedRoute, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	primaryID, ok := c.routes[file]
	if !ok {
		return types.ResolvedRoute{}, fmt.Errorf("%w: no route for %s", proto.ErrNotFound, file)
	}
	p := c.nodes[primaryID]
	if p != nil && p.Alive() {
		return types.ResolvedRoute{SSID: p.ID, Host: p.Host, Port: p.ClientPort}, nil
	}
	if r := c.replicaOf(primaryID); r != nil && r.Alive() {
		metrics.Failovers.Inc()
		c.logger.Warn().Str("file", file).Str("primary", primaryID).Str("replica", r.ID).Msg("routing to replica")
		c.publish(events.New(events.EventRouteFailover, "route answered by replica",
			map[string]string{"file": file, "primary": primaryID, "replica": r.ID}))
		return types.ResolvedRoute{SSID: r.ID, Host: r.Host, Port: r.ClientPort, IsReplica: true}, nil
	}
	return types.ResolvedRoute{}, fmt.Errorf("%w: no live node for %s", proto.ErrNotFound, file)
}

// ReplicaEndpoint returns the replica endpoint for a file's primary,
// regardless of the primary's liveness. Used by async replication.
func (c *Cluster) ReplicaEndpoint(file string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	primaryID, ok := c.routes[file]
	if !ok {
		return "", false
	}
	r := c.replicaOf(primaryID)
	if r == nil || !r.Alive() {
		return "", false
	}
	return fmt.Sprintf("%s:%d", r.Host, r.ClientPort), true
}

// AnyLive returns some live node, preferring the earliest registered.
func (c *Cluster) AnyLive() (types.ResolvedRoute, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.order {
		n := c.nodes[id]
		if n != nil && n.Alive() {
			return types.ResolvedRoute{SSID: n.ID, Host: n.Host, Port: n.ClientPort}, nil
		}
	}
	return types.ResolvedRoute{}, fmt.Errorf("%w: no storage server available", proto.ErrInternal)
}

// MapFile records a new file under the given primary.
func (c *Cluster) MapFile(file, ssID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[file] = ssID
	c.persistRoute(file, ssID)
	c.updateGauges()
}

// RenameRoute moves a routing entry to a new key, keeping its primary.
func (c *Cluster) RenameRoute(oldName, newName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.routes[oldName]
	if !ok {
		return
	}
	delete(c.routes, oldName)
	c.routes[newName] = id
	if c.store != nil {
		if err := c.store.DeleteRoute(oldName); err != nil {
			c.logger.Warn().Err(err).Str("file", oldName).Msg("drop old route")
		}
	}
	c.persistRoute(newName, id)
}

// DeleteRoute forgets a file.
func (c *Cluster) DeleteRoute(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.routes, file)
	if c.store != nil {
		if err := c.store.DeleteRoute(file); err != nil {
			c.logger.Warn().Err(err).Str("file", file).Msg("drop route")
		}
	}
	c.updateGauges()
}

// FileNames returns every routed file, sorted.
func (c *Cluster) FileNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.routes))
	for f := range c.routes {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// Node returns a copy of one node record.
func (c *Cluster) Node(id string) (types.StorageNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return types.StorageNode{}, false
	}
	return *n, true
}

// AddUser records a known user (idempotent).
func (c *Cluster) AddUser(user string) {
	if user == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[user] = struct{}{}
	if c.store != nil {
		if err := c.store.SaveUser(user); err != nil {
			c.logger.Warn().Err(err).Str("user", user).Msg("persist user")
		}
	}
}

// RemoveUser forgets a user (idempotent).
func (c *Cluster) RemoveUser(user string) {
	if user == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, user)
	if c.store != nil {
		if err := c.store.DeleteUser(user); err != nil {
			c.logger.Warn().Err(err).Str("user", user).Msg("drop user")
		}
	}
}

// UserList renders the known users as a comma-joined string.
func (c *Cluster) UserList() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	users := make([]string, 0, len(c.users))
	for u := range c.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return strings.Join(users, ",")
}
