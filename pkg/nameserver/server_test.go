package nameserver

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillfs/quill/pkg/client"
	"github.com/quillfs/quill/pkg/config"
	"github.com/quillfs/quill/pkg/proto"
	"github.com/quillfs/quill/pkg/storageserver"
)

// startNM runs a name server on an ephemeral port with intervals short
// enough for failover tests.
func startNM(t *testing.T) *Server {
	t.Helper()
	srv, err := New(config.NameServerConfig{
		ListenAddr:         "127.0.0.1:0",
		HeartbeatTimeout:   200 * time.Millisecond,
		SweepInterval:      50 * time.Millisecond,
		ReplicationWorkers: 2,
	}, false)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func startSS(t *testing.T, id, nmAddr string) *storageserver.Server {
	t.Helper()
	store, err := storageserver.NewFileStore(t.TempDir())
	require.NoError(t, err)
	srv := storageserver.New(config.StorageConfig{
		ID:                id,
		Host:              "127.0.0.1",
		ListenAddr:        "127.0.0.1:0",
		NMAddr:            nmAddr,
		HeartbeatInterval: 50 * time.Millisecond,
		RegisterRetries:   5,
		RegisterBackoff:   20 * time.Millisecond,
	}, store)
	require.NoError(t, srv.Start())
	return srv
}

func ssAddr(route *proto.Message) string {
	return fmt.Sprintf("%s:%d", route.SSHost, route.SSPort)
}

func TestEndToEndCreateWriteRead(t *testing.T) {
	nm := startNM(t)
	ss := startSS(t, "ss1", nm.Addr())
	defer ss.Stop()

	cli, err := client.Dial(nm.Addr())
	require.NoError(t, err)
	defer cli.Close()

	resp, err := cli.Do(&proto.Message{Op: proto.OpCliRegister, User: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "welcome", resp.Msg)

	resp, err = cli.Do(&proto.Message{Op: proto.OpCreate, File: "notes.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = cli.Do(&proto.Message{Op: proto.OpView})
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", resp.Files)

	resp, err = cli.Do(&proto.Message{Op: proto.OpListUsers})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Users)

	route, err := cli.Do(&proto.Message{Op: proto.OpWriteRoute, File: "notes.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.OpRoute, route.Op)
	assert.Equal(t, "ss1", route.SSID)
	assert.False(t, route.IsReplica)

	wc, err := client.Dial(ssAddr(route))
	require.NoError(t, err)
	defer wc.Close()
	for _, m := range []*proto.Message{
		{Op: proto.OpWriteBegin, File: "notes.txt", User: "alice", SentenceIdx: 0},
		{Op: proto.OpWriteEdit, WordIndex: 0, Content: "hello world."},
		{Op: proto.OpWriteCommit, File: "notes.txt"},
	} {
		resp, err := wc.Do(m)
		require.NoError(t, err)
		require.Equal(t, proto.StatusOK, resp.Status)
	}

	route, err = cli.Do(&proto.Message{Op: proto.OpReadRoute, File: "notes.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.OpRoute, route.Op)
	resp, err = client.Call(ssAddr(route), &proto.Message{Op: proto.OpRead, File: "notes.txt", User: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "hello world.", resp.Content)

	// INFO proxies through the name server.
	resp, err = cli.Do(&proto.Message{Op: proto.OpInfo, File: "notes.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)
	assert.Contains(t, resp.Info, "File:notes.txt")
	assert.Contains(t, resp.Info, "Owner:alice")
}

func TestAccessRequestFlow(t *testing.T) {
	nm := startNM(t)
	ss := startSS(t, "ss1", nm.Addr())
	defer ss.Stop()

	alice, err := client.Dial(nm.Addr())
	require.NoError(t, err)
	defer alice.Close()
	bob, err := client.Dial(nm.Addr())
	require.NoError(t, err)
	defer bob.Close()

	_, err = alice.Do(&proto.Message{Op: proto.OpCliRegister, User: "alice"})
	require.NoError(t, err)
	_, err = bob.Do(&proto.Message{Op: proto.OpCliRegister, User: "bob"})
	require.NoError(t, err)

	resp, err := alice.Do(&proto.Message{Op: proto.OpCreate, File: "f.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = bob.Do(&proto.Message{Op: proto.OpRequestAccess, File: "f.txt", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = alice.Do(&proto.Message{Op: proto.OpViewRequests})
	require.NoError(t, err)
	assert.Equal(t, "f.txt:bob", resp.Requests)

	resp, err = alice.Do(&proto.Message{Op: proto.OpRespondRequest, File: "f.txt", Requester: "bob", Approve: 1})
	require.NoError(t, err)
	assert.Equal(t, "request approved", resp.Msg)

	resp, err = alice.Do(&proto.Message{Op: proto.OpViewRequests})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Requests)

	// The approval granted bob read access on the storage server.
	resp, err = alice.Do(&proto.Message{Op: proto.OpInfo, File: "f.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)
	assert.Contains(t, resp.Info, "bob")
}

func TestRespondDeny(t *testing.T) {
	nm := startNM(t)
	ss := startSS(t, "ss1", nm.Addr())
	defer ss.Stop()

	cli, err := client.Dial(nm.Addr())
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Do(&proto.Message{Op: proto.OpCliRegister, User: "alice"})
	require.NoError(t, err)
	resp, err := cli.Do(&proto.Message{Op: proto.OpCreate, File: "f.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = cli.Do(&proto.Message{Op: proto.OpRequestAccess, File: "f.txt", Requester: "bob", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = cli.Do(&proto.Message{Op: proto.OpRespondRequest, File: "f.txt", Requester: "bob", Approve: 0})
	require.NoError(t, err)
	assert.Equal(t, "request denied", resp.Msg)

	resp, err = cli.Do(&proto.Message{Op: proto.OpViewRequests})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Requests)
}

func TestFailoverRoutesToReplica(t *testing.T) {
	nm := startNM(t)
	ss1 := startSS(t, "ss1", nm.Addr())
	ss2 := startSS(t, "ss2", nm.Addr())
	defer ss2.Stop()

	cli, err := client.Dial(nm.Addr())
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Do(&proto.Message{Op: proto.OpCliRegister, User: "alice"})
	require.NoError(t, err)
	resp, err := cli.Do(&proto.Message{Op: proto.OpCreate, File: "f.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	route, err := cli.Do(&proto.Message{Op: proto.OpReadRoute, File: "f.txt"})
	require.NoError(t, err)
	require.Equal(t, "ss1", route.SSID)

	ss1.Stop()

	require.Eventually(t, func() bool {
		route, err := cli.Do(&proto.Message{Op: proto.OpReadRoute, File: "f.txt"})
		return err == nil && route.Op == proto.OpRoute && route.SSID == "ss2" && route.IsReplica
	}, 3*time.Second, 50*time.Millisecond)

	// The revived primary takes its routes back.
	ss1b := startSS(t, "ss1", nm.Addr())
	defer ss1b.Stop()
	require.Eventually(t, func() bool {
		route, err := cli.Do(&proto.Message{Op: proto.OpReadRoute, File: "f.txt"})
		return err == nil && route.SSID == "ss1" && !route.IsReplica
	}, 3*time.Second, 50*time.Millisecond)
}

func TestReplicationShipsCheckpointToReplica(t *testing.T) {
	nm := startNM(t)
	ss1 := startSS(t, "ss1", nm.Addr())
	defer ss1.Stop()
	ss2 := startSS(t, "ss2", nm.Addr())
	defer ss2.Stop()

	cli, err := client.Dial(nm.Addr())
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Do(&proto.Message{Op: proto.OpCliRegister, User: "alice"})
	require.NoError(t, err)
	resp, err := cli.Do(&proto.Message{Op: proto.OpCreate, File: "f.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	// Seed the replica's copy of the file, as a replicated create would.
	resp, err = client.Call(ss2.Addr(), &proto.Message{Op: proto.OpNMCreate, File: "f.txt", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = cli.Do(&proto.Message{Op: proto.OpCheckpoint, File: "f.txt", Tag: "v1"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	// Delivery is fire-and-forget; the checkpoint shows up on the
	// replica shortly after the client response.
	require.Eventually(t, func() bool {
		resp, err := client.Call(ss2.Addr(), &proto.Message{Op: proto.OpListCheckpoints, File: "f.txt"})
		return err == nil && resp.Status == proto.StatusOK && resp.Checkpoints == "v1"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestDeleteRemovesRoute(t *testing.T) {
	nm := startNM(t)
	ss := startSS(t, "ss1", nm.Addr())
	defer ss.Stop()

	cli, err := client.Dial(nm.Addr())
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Do(&proto.Message{Op: proto.OpCliRegister, User: "alice"})
	require.NoError(t, err)
	resp, err := cli.Do(&proto.Message{Op: proto.OpCreate, File: "f.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	// A stranger's delete fails with the storage server's verdict and
	// the route survives.
	resp, err = cli.Do(&proto.Message{Op: proto.OpDelete, File: "f.txt", User: "bob"})
	require.NoError(t, err)
	assert.Equal(t, proto.StatusUnauthorized, resp.Status)
	route, err := cli.Do(&proto.Message{Op: proto.OpReadRoute, File: "f.txt"})
	require.NoError(t, err)
	assert.Equal(t, proto.OpRoute, route.Op)

	resp, err = cli.Do(&proto.Message{Op: proto.OpDelete, File: "f.txt", User: "alice"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = cli.Do(&proto.Message{Op: proto.OpReadRoute, File: "f.txt"})
	require.NoError(t, err)
	assert.Equal(t, proto.StatusNotFound, resp.Status)
}

func TestFoldersCheckpointsThroughNM(t *testing.T) {
	nm := startNM(t)
	ss := startSS(t, "ss1", nm.Addr())
	defer ss.Stop()

	cli, err := client.Dial(nm.Addr())
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Do(&proto.Message{Op: proto.OpCliRegister, User: "alice"})
	require.NoError(t, err)
	resp, err := cli.Do(&proto.Message{Op: proto.OpCreate, File: "f.txt"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = cli.Do(&proto.Message{Op: proto.OpCreateFolder, Folder: "docs"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = cli.Do(&proto.Message{Op: proto.OpCheckpoint, File: "f.txt", Tag: "v1"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	resp, err = cli.Do(&proto.Message{Op: proto.OpListCheckpoints, File: "f.txt"})
	require.NoError(t, err)
	assert.Equal(t, "v1", resp.Checkpoints)

	resp, err = cli.Do(&proto.Message{Op: proto.OpMove, File: "f.txt", Folder: "docs"})
	require.NoError(t, err)
	require.Equal(t, proto.StatusOK, resp.Status)

	// The route follows the rename.
	resp, err = cli.Do(&proto.Message{Op: proto.OpReadRoute, File: "f.txt"})
	require.NoError(t, err)
	assert.Equal(t, proto.StatusNotFound, resp.Status)
	route, err := cli.Do(&proto.Message{Op: proto.OpReadRoute, File: "docs/f.txt"})
	require.NoError(t, err)
	assert.Equal(t, proto.OpRoute, route.Op)

	resp, err = cli.Do(&proto.Message{Op: proto.OpViewFolder, Folder: "docs"})
	require.NoError(t, err)
	assert.Equal(t, "f.txt", resp.Files)
}

func TestExecDisabledByDefault(t *testing.T) {
	nm := startNM(t)

	resp, err := client.Call(nm.Addr(), &proto.Message{Op: proto.OpExec, File: "f.txt", User: "alice"})
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOutOfScope, resp.Status)
}

func TestRouteForMissingFile(t *testing.T) {
	nm := startNM(t)

	resp, err := client.Call(nm.Addr(), &proto.Message{Op: proto.OpReadRoute, File: "nope.txt"})
	require.NoError(t, err)
	assert.Equal(t, proto.StatusNotFound, resp.Status)

	// No storage servers at all: CREATE cannot be placed.
	resp, err = client.Call(nm.Addr(), &proto.Message{Op: proto.OpCreate, File: "f.txt", User: "alice"})
	require.NoError(t, err)
	assert.Equal(t, proto.StatusInternal, resp.Status)
}
