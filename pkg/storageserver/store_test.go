package storageserver

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillfs/quill/pkg/log"
	"github.com/quillfs/quill/pkg/proto"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

// commit is a test helper running a full write session.
func commit(t *testing.T, s *FileStore, file, user string, idx, wordIdx int, content string) {
	t.Helper()
	require.NoError(t, s.WriteBegin(file, user, idx))
	require.NoError(t, s.WriteEdit(file, user, wordIdx, content))
	require.NoError(t, s.WriteCommit(file, user))
}

func TestCreateAndRead(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Create("notes.txt", "alice"))
	content, err := s.Read("notes.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "", content)

	err = s.Create("notes.txt", "alice")
	assert.ErrorIs(t, err, proto.ErrConflict)

	_, err = s.Read("missing.txt", "alice")
	assert.ErrorIs(t, err, proto.ErrNotFound)
}

func TestWriteSessionRoundTrip(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("notes.txt", "alice"))

	commit(t, s, "notes.txt", "alice", 0, 0, "hello world.")

	content, err := s.Read("notes.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello world.", content)

	// Content survives a cache drop.
	s.mu.Lock()
	s.evict("notes.txt")
	s.mu.Unlock()
	content, err = s.Read("notes.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello world.", content)
}

func TestWriteBeginRules(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "a. b.")

	// Locking one past the end works because the last sentence is sealed.
	require.NoError(t, s.WriteBegin("f.txt", "alice", 2))
	// Idempotent re-begin on the same sentence.
	require.NoError(t, s.WriteBegin("f.txt", "alice", 2))
	// Same user, different sentence.
	assert.ErrorIs(t, s.WriteBegin("f.txt", "alice", 0), proto.ErrLocked)
	// Another user on the held sentence.
	assert.ErrorIs(t, s.WriteBegin("f.txt", "bob", 2), proto.ErrLocked)
	// Another user on a free sentence.
	require.NoError(t, s.WriteBegin("f.txt", "bob", 0))

	// Out of range.
	assert.ErrorIs(t, s.WriteBegin("f.txt", "carol", 7), proto.ErrBadRequest)
	assert.ErrorIs(t, s.WriteBegin("f.txt", "carol", -1), proto.ErrBadRequest)
}

func TestWriteBeginUnsealedTail(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "no delimiter here")

	// The single sentence is unsealed, so appending another is refused.
	assert.ErrorIs(t, s.WriteBegin("f.txt", "bob", 1), proto.ErrBadRequest)
}

func TestConcurrentWriteBeginExclusive(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))

	const users = 8
	results := make([]error, users)
	var wg sync.WaitGroup
	wg.Add(users)
	for i := 0; i < users; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = s.WriteBegin("f.txt", fmt.Sprintf("user%d", i), 0)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range results {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, proto.ErrLocked)
		}
	}
	assert.Equal(t, 1, won)
}

func TestWriteEditSplitShiftsLocks(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "a. b.")

	require.NoError(t, s.WriteBegin("f.txt", "alice", 0))
	require.NoError(t, s.WriteBegin("f.txt", "bob", 1))

	// Sealing sentence 0 mid-edit splits it; bob's lock follows his text.
	require.NoError(t, s.WriteEdit("f.txt", "alice", 1, "x. y"))

	s.mu.Lock()
	st := s.cache["f.txt"]
	bobIdx := st.locks.byUser["bob"]
	s.mu.Unlock()
	assert.Equal(t, 2, bobIdx)

	require.NoError(t, s.WriteEdit("f.txt", "bob", 0, "z"))
	require.NoError(t, s.WriteCommit("f.txt", "alice"))
	require.NoError(t, s.WriteCommit("f.txt", "bob"))

	content, err := s.Read("f.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "a x. y z b.", content)
}

func TestWriteEditRequiresSession(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))

	err := s.WriteEdit("f.txt", "alice", 0, "hello")
	assert.ErrorIs(t, err, proto.ErrBadRequest)
}

func TestWriteEditWordIndexBounds(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "one two.")

	require.NoError(t, s.WriteBegin("f.txt", "alice", 0))
	// Appending at word_count is allowed; beyond it is not.
	require.NoError(t, s.WriteEdit("f.txt", "alice", 2, "three"))
	assert.ErrorIs(t, s.WriteEdit("f.txt", "alice", 9, "x"), proto.ErrBadRequest)
	assert.ErrorIs(t, s.WriteEdit("f.txt", "alice", -1, "x"), proto.ErrBadRequest)
}

func TestUndoTwiceRestoresSameSnapshot(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "hello world.")
	commit(t, s, "f.txt", "alice", 0, 0, "bye")

	content, err := s.Read("f.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "bye hello world.", content)

	require.NoError(t, s.Undo("f.txt", "alice"))
	content, err = s.Read("f.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello world.", content)

	// The snapshot is not consumed.
	require.NoError(t, s.Undo("f.txt", "alice"))
	content, err = s.Read("f.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello world.", content)
}

func TestUndoWithoutSnapshot(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	assert.ErrorIs(t, s.Undo("f.txt", "alice"), proto.ErrNotFound)
}

func TestUndoRequiresWriteAccess(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "hello.")

	assert.ErrorIs(t, s.Undo("f.txt", "bob"), proto.ErrUnauthorized)

	require.NoError(t, s.AddAccess("f.txt", "alice", "bob", "R"))
	assert.ErrorIs(t, s.Undo("f.txt", "bob"), proto.ErrUnauthorized)

	require.NoError(t, s.AddAccess("f.txt", "alice", "bob", "W"))
	assert.NoError(t, s.Undo("f.txt", "bob"))
}

func TestCheckpointRevert(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "hello world.")

	require.NoError(t, s.Checkpoint("f.txt", "v1"))
	commit(t, s, "f.txt", "alice", 1, 0, "more text.")

	content, err := s.Read("f.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello world. more text.", content)

	snap, err := s.ViewCheckpoint("f.txt", "v1")
	require.NoError(t, err)
	assert.Equal(t, "hello world.", snap)

	require.NoError(t, s.Revert("f.txt", "v1"))
	content, err = s.Read("f.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello world.", content)

	tags, err := s.ListCheckpoints("f.txt")
	require.NoError(t, err)
	assert.Equal(t, "v1", tags)
}

func TestListCheckpointsEmpty(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))

	tags, err := s.ListCheckpoints("f.txt")
	require.NoError(t, err)
	assert.Equal(t, "", tags)
}

func TestCheckpointMissingFile(t *testing.T) {
	s := newStore(t)
	assert.ErrorIs(t, s.Checkpoint("missing.txt", "v1"), proto.ErrNotFound)
	assert.ErrorIs(t, s.Revert("f.txt", "nope"), proto.ErrNotFound)
	_, err := s.ViewCheckpoint("f.txt", "nope")
	assert.ErrorIs(t, err, proto.ErrNotFound)
}

func TestAccessControl(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))

	// Only the owner edits the ACL.
	assert.ErrorIs(t, s.AddAccess("f.txt", "bob", "bob", "W"), proto.ErrUnauthorized)

	require.NoError(t, s.AddAccess("f.txt", "alice", "bob", "R"))
	require.NoError(t, s.AddAccess("f.txt", "alice", "bob", "W")) // upgrade

	require.NoError(t, s.RemoveAccess("f.txt", "alice", "bob"))
	assert.ErrorIs(t, s.RemoveAccess("f.txt", "alice", "bob"), proto.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))

	assert.ErrorIs(t, s.Delete("f.txt", "bob"), proto.ErrUnauthorized)

	require.NoError(t, s.WriteBegin("f.txt", "alice", 0))
	assert.ErrorIs(t, s.Delete("f.txt", "alice"), proto.ErrLocked)
	s.ReleaseSession("f.txt", "alice")

	require.NoError(t, s.Delete("f.txt", "alice"))
	_, err := s.Read("f.txt", "alice")
	assert.ErrorIs(t, err, proto.ErrNotFound)
}

func TestFoldersAndMove(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("notes.txt", "alice"))
	commit(t, s, "notes.txt", "alice", 0, 0, "hello.")

	require.NoError(t, s.CreateFolder("docs"))
	assert.ErrorIs(t, s.CreateFolder("docs"), proto.ErrAlreadyExists)

	assert.ErrorIs(t, s.Move("notes.txt", "missing"), proto.ErrNotFound)
	require.NoError(t, s.Move("notes.txt", "docs"))

	content, err := s.Read("docs/notes.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello.", content)
	_, err = s.Read("notes.txt", "alice")
	assert.ErrorIs(t, err, proto.ErrNotFound)

	files, err := s.ViewFolder("docs")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", files)

	_, err = s.ViewFolder("missing")
	assert.ErrorIs(t, err, proto.ErrNotFound)
}

func TestMoveKeepsUndo(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "one.")
	commit(t, s, "f.txt", "alice", 1, 0, "two.")

	require.NoError(t, s.CreateFolder("docs"))
	require.NoError(t, s.Move("f.txt", "docs"))

	require.NoError(t, s.Undo("docs/f.txt", "alice"))
	content, err := s.Read("docs/f.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "one.", content)
}

func TestList(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("mine.txt", "alice"))
	require.NoError(t, s.Create("theirs.txt", "bob"))
	require.NoError(t, s.AddAccess("theirs.txt", "bob", "carol", "R"))

	list, err := s.List("", "alice")
	require.NoError(t, err)
	assert.Equal(t, "mine.txt", list)

	list, err = s.List("", "carol")
	require.NoError(t, err)
	assert.Equal(t, "theirs.txt", list)

	list, err = s.List("a", "alice")
	require.NoError(t, err)
	assert.Equal(t, "mine.txt;;theirs.txt", list)

	list, err = s.List("al", "alice")
	require.NoError(t, err)
	assert.Contains(t, list, "mine.txt | Owner: alice | Words: 0 | Chars: 0 | Modified: ")
	assert.Contains(t, list, "theirs.txt | Owner: bob")
}

func TestInfo(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	require.NoError(t, s.AddAccess("f.txt", "alice", "bob", "R"))
	commit(t, s, "f.txt", "alice", 0, 0, "hello world.")

	info, err := s.Info("f.txt")
	require.NoError(t, err)
	assert.Contains(t, info, "File:f.txt")
	assert.Contains(t, info, "Owner:alice")
	assert.Contains(t, info, "alice (RW)")
	assert.Contains(t, info, "bob (R)")
	assert.Contains(t, info, "Size:12 bytes")
	assert.Contains(t, info, "LastAccessUser:alice")

	_, err = s.Info("missing.txt")
	assert.ErrorIs(t, err, proto.ErrNotFound)
}

func TestReleaseSessionDiscardsEdits(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "hello.")

	require.NoError(t, s.WriteBegin("f.txt", "alice", 0))
	require.NoError(t, s.WriteEdit("f.txt", "alice", 1, "uncommitted"))
	s.ReleaseSession("f.txt", "alice")

	// The lock is free again and the edit is gone.
	require.NoError(t, s.WriteBegin("f.txt", "bob", 0))
	s.ReleaseSession("f.txt", "bob")
	content, err := s.Read("f.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello.", content)
}

func TestStartupScanReloadsFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Create("f.txt", "alice"))
	commit(t, s, "f.txt", "alice", 0, 0, "persisted text.")

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	content, err := reopened.Read("f.txt", "bob")
	require.NoError(t, err)
	assert.Equal(t, "persisted text.", content)

	// Ownership came back from the metadata file.
	assert.ErrorIs(t, reopened.Delete("f.txt", "bob"), proto.ErrUnauthorized)
	assert.NoError(t, reopened.Delete("f.txt", "alice"))
}

func TestPathTraversalRejected(t *testing.T) {
	s := newStore(t)
	assert.ErrorIs(t, s.Create("../escape.txt", "alice"), proto.ErrBadRequest)
	_, err := s.Read("/etc/passwd", "alice")
	assert.ErrorIs(t, err, proto.ErrBadRequest)
}
