// Package types defines the cluster data model shared by the name
// server, its persistent store, and the storage servers.
package types

import "time"

// NodeStatus represents storage node liveness
type NodeStatus string

const (
	NodeAlive NodeStatus = "alive"
	NodeDown  NodeStatus = "down"
)

// StorageNode is one registered storage server as the name server sees it.
// Nodes are created on first registration and never removed; Status
// oscillates under the failure detector.
type StorageNode struct {
	ID            string     `json:"id"`
	Host          string     `json:"host"`
	ClientPort    int        `json:"client_port"`
	NMPort        int        `json:"nm_port"`
	Status        NodeStatus `json:"status"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	RegisteredAt  time.Time  `json:"registered_at"`

	// ReplicaOf names the node this one replicates, or "" for a primary
	// with no replication role.
	ReplicaOf string `json:"replica_of,omitempty"`
}

// Alive reports whether the node is currently considered live.
func (n *StorageNode) Alive() bool {
	return n.Status == NodeAlive
}

// FileRoute maps a file path to the node that owns it. The replica for a
// route is derived at lookup time from the membership table (the node
// whose ReplicaOf names the primary), so only the primary is stored.
type FileRoute struct {
	File      string `json:"file"`
	PrimaryID string `json:"primary_id"`
}

// ResolvedRoute is the answer to a route lookup: a concrete endpoint,
// flagged when the primary was substituted by its replica.
type ResolvedRoute struct {
	SSID      string
	Host      string
	Port      int
	IsReplica bool
}

// AccessRequest is a pending ask for read access to a file. At most one
// pending request exists per (file, requester).
type AccessRequest struct {
	ID        string    `json:"id"`
	File      string    `json:"file"`
	Requester string    `json:"requester"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}
