package nameserver

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"

	"github.com/quillfs/quill/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	bucketNodes    = []byte("nodes")
	bucketRoutes   = []byte("routes")
	bucketUsers    = []byte("users")
	bucketRequests = []byte("requests")
)

// Store persists the name server's membership, routing, user, and
// access-request tables so a restart does not forget the cluster.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the state database under dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	db, err := bolt.Open(filepath.Join(dir, "state.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketRoutes, bucketUsers, bucketRequests} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveNode upserts one node record.
func (s *Store) SaveNode(n *types.StorageNode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(n.ID), data)
	})
}

// Nodes returns every persisted node.
func (s *Store) Nodes() ([]*types.StorageNode, error) {
	var nodes []*types.StorageNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, v []byte) error {
			var n types.StorageNode
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			nodes = append(nodes, &n)
			return nil
		})
	})
	return nodes, err
}

// SaveRoute upserts one file route.
func (s *Store) SaveRoute(r types.FileRoute) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRoutes).Put([]byte(r.File), data)
	})
}

// DeleteRoute removes a file route.
func (s *Store) DeleteRoute(file string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutes).Delete([]byte(file))
	})
}

// Routes returns every persisted route.
func (s *Store) Routes() ([]types.FileRoute, error) {
	var routes []types.FileRoute
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutes).ForEach(func(_, v []byte) error {
			var r types.FileRoute
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			routes = append(routes, r)
			return nil
		})
	})
	return routes, err
}

// SaveUser records a known user.
func (s *Store) SaveUser(user string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Put([]byte(user), []byte{1})
	})
}

// DeleteUser forgets a user.
func (s *Store) DeleteUser(user string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(user))
	})
}

// Users returns every known user.
func (s *Store) Users() ([]string, error) {
	var users []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, _ []byte) error {
			users = append(users, string(k))
			return nil
		})
	})
	return users, err
}

func requestKey(file, requester string) []byte {
	return []byte(file + "\x00" + requester)
}

// SaveRequest upserts one pending access request.
func (s *Store) SaveRequest(r *types.AccessRequest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRequests).Put(requestKey(r.File, r.Requester), data)
	})
}

// DeleteRequest removes a pending access request.
func (s *Store) DeleteRequest(file, requester string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).Delete(requestKey(file, requester))
	})
}

// Requests returns every pending access request.
func (s *Store) Requests() ([]*types.AccessRequest, error) {
	var reqs []*types.AccessRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(_, v []byte) error {
			var r types.AccessRequest
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			reqs = append(reqs, &r)
			return nil
		})
	})
	return reqs, err
}
