package storageserver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quillfs/quill/pkg/log"
	"github.com/quillfs/quill/pkg/metrics"
	"github.com/quillfs/quill/pkg/proto"
)

const infoTimeFormat = "2006-01-02 15:04"
const listTimeFormat = "2006-01-02 15:04:05"

// fileState is one tokenized file resident in the cache, together with
// its metadata and active sentence locks.
type fileState struct {
	name      string
	sentences []Sentence
	meta      Metadata
	locks     *lockSet
}

// FileStore owns the on-disk layout of one storage server and the
// in-memory cache of tokenized files. All exported methods take the
// single store mutex; WRITE_BEGIN in particular checks and installs its
// lock atomically under it.
type FileStore struct {
	mu     sync.Mutex
	root   string
	cache  map[string]*fileState
	logger zerolog.Logger
}

// NewFileStore opens (creating if needed) the data layout under root
// and loads every existing file into the cache.
func NewFileStore(root string) (*FileStore, error) {
	s := &FileStore{
		root:   root,
		cache:  make(map[string]*fileState),
		logger: log.WithComponent("filestore"),
	}
	for _, dir := range []string{s.filesDir(), s.metaDir(), s.undoDir(), s.checkpointsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// Tokenizing on startup is CPU-bound; load files in parallel and
	// fill the cache under the mutex.
	var g errgroup.Group
	g.SetLimit(4)
	for _, name := range s.scanFiles() {
		name := name
		g.Go(func() error {
			st, err := s.loadFromDisk(name)
			if err != nil {
				s.logger.Warn().Err(err).Str("file", name).Msg("skipping unloadable file")
				return nil
			}
			s.mu.Lock()
			s.cache[name] = st
			s.mu.Unlock()
			return nil
		})
	}
	g.Wait()
	metrics.FilesCached.Set(float64(len(s.cache)))
	return s, nil
}

func (s *FileStore) filesDir() string       { return filepath.Join(s.root, "files") }
func (s *FileStore) metaDir() string        { return filepath.Join(s.root, "meta") }
func (s *FileStore) undoDir() string        { return filepath.Join(s.root, "undo") }
func (s *FileStore) checkpointsDir() string { return filepath.Join(s.root, "checkpoints") }

func (s *FileStore) filePath(name string) string { return filepath.Join(s.filesDir(), name) }
func (s *FileStore) metaPath(name string) string { return filepath.Join(s.metaDir(), name+".json") }
func (s *FileStore) undoPath(name string) string { return filepath.Join(s.undoDir(), name+".bak") }
func (s *FileStore) checkpointPath(name, tag string) string {
	return filepath.Join(s.checkpointsDir(), name, tag)
}

// validName rejects empty names and anything escaping the data root.
func validName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: invalid name", proto.ErrBadRequest)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: invalid name %q", proto.ErrBadRequest, name)
		}
	}
	return nil
}

// scanFiles walks the files root and returns every relative path.
func (s *FileStore) scanFiles() []string {
	var names []string
	root := s.filesDir()
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(names)
	return names
}

// loadFromDisk tokenizes one file and reads its metadata without
// touching the cache.
func (s *FileStore) loadFromDisk(name string) (*fileState, error) {
	b, err := os.ReadFile(s.filePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", proto.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: read %s: %v", proto.ErrInternal, name, err)
	}
	st := &fileState{
		name:      name,
		sentences: Tokenize(string(b)),
		locks:     newLockSet(),
	}
	if meta, merr := loadMetadata(s.metaPath(name)); merr == nil {
		st.meta = meta
	}
	return st, nil
}

// load returns the cached state for name, tokenizing it from disk on
// first access. Caller holds the mutex.
func (s *FileStore) load(name string) (*fileState, error) {
	if st, ok := s.cache[name]; ok {
		return st, nil
	}
	st, err := s.loadFromDisk(name)
	if err != nil {
		return nil, err
	}
	s.cache[name] = st
	metrics.FilesCached.Set(float64(len(s.cache)))
	return st, nil
}

func (s *FileStore) evict(name string) {
	if _, ok := s.cache[name]; ok {
		delete(s.cache, name)
		metrics.FilesCached.Set(float64(len(s.cache)))
	}
}

// checkAccess enforces owner-or-ACL. The owner always passes.
func checkAccess(st *fileState, user string, needWrite bool) error {
	if st.meta.Owner == user {
		return nil
	}
	if e := st.meta.entry(user); e != nil {
		if needWrite && !e.CanWrite() {
			return proto.ErrUnauthorized
		}
		if !needWrite && !e.CanRead() {
			return proto.ErrUnauthorized
		}
		return nil
	}
	return proto.ErrUnauthorized
}

// touch refreshes access metadata and persists it.
func (s *FileStore) touch(st *fileState, user string) {
	st.meta.Accessed = time.Now().Unix()
	if user != "" {
		st.meta.LastAccessUser = user
	}
	if err := saveMetadata(s.metaPath(st.name), st.meta); err != nil {
		s.logger.Warn().Err(err).Str("file", st.name).Msg("save metadata")
	}
}

// Read returns the rebuilt text of a file. Reads are permitted without
// an ACL entry; only a missing file fails.
func (s *FileStore) Read(name, user string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(name)
	if err != nil {
		return "", err
	}
	content := Rebuild(st.sentences)
	s.touch(st, user)
	return content, nil
}

// Words returns every word of the file in order, for streaming.
func (s *FileStore) Words(name, user string) ([]string, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(name)
	if err != nil {
		return nil, err
	}
	var words []string
	for _, sent := range st.sentences {
		words = append(words, sent.Words...)
	}
	s.touch(st, user)
	return words, nil
}

// Create makes a new empty file owned by owner.
func (s *FileStore) Create(name, owner string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache[name]; ok {
		return fmt.Errorf("%w: %s", proto.ErrConflict, name)
	}
	path := s.filePath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", proto.ErrConflict, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}

	now := time.Now().Unix()
	st := &fileState{
		name:  name,
		locks: newLockSet(),
		meta: Metadata{
			Owner:          owner,
			Created:        now,
			Modified:       now,
			Accessed:       now,
			LastAccessUser: owner,
		},
	}
	s.cache[name] = st
	metrics.FilesCached.Set(float64(len(s.cache)))
	if err := saveMetadata(s.metaPath(name), st.meta); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	return nil
}

// Delete removes a file, its metadata, and its undo snapshot. Only the
// owner may delete, and not while any sentence lock is held.
// Checkpoints are left behind.
func (s *FileStore) Delete(name, actor string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(name)
	if err != nil {
		return err
	}
	if st.meta.Owner != actor {
		return proto.ErrUnauthorized
	}
	if !st.locks.empty() {
		return proto.ErrLocked
	}
	s.evict(name)
	os.Remove(s.filePath(name))
	os.Remove(s.undoPath(name))
	os.Remove(s.metaPath(name))
	return nil
}

// WriteBegin opens a write session by locking one sentence for user.
// Locking one past the end appends a fresh unsealed sentence, but only
// when the file is empty or the previous sentence is sealed.
func (s *FileStore) WriteBegin(name, user string, idx int) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(name)
	if err != nil {
		return err
	}

	if len(st.sentences) == 0 && idx == 0 {
		st.sentences = append(st.sentences, Sentence{})
	}
	if idx == len(st.sentences) {
		switch {
		case idx == 0:
			st.sentences = append(st.sentences, Sentence{})
		case st.sentences[idx-1].Sealed():
			st.sentences = append(st.sentences, Sentence{})
		default:
			return fmt.Errorf("%w: previous sentence not sealed", proto.ErrBadRequest)
		}
	}
	if idx < 0 || idx >= len(st.sentences) {
		return fmt.Errorf("%w: sentence %d out of range", proto.ErrBadRequest, idx)
	}

	if held, ok := st.locks.sentenceOf(user); ok {
		if held == idx {
			return nil
		}
		return proto.ErrLocked
	}
	if st.locks.heldByOther(idx, user) {
		return proto.ErrLocked
	}
	st.locks.add(user, idx)
	metrics.LocksHeld.Inc()
	return nil
}

// WriteEdit inserts the tokens of content into the user's locked
// sentence starting at wordIndex. A delimiter in content seals the
// sentence; text after it becomes a new sentence inserted right behind,
// and locks on later sentences shift to follow their text.
func (s *FileStore) WriteEdit(name, user string, wordIndex int, content string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.cache[name]
	if !ok {
		return fmt.Errorf("%w: %s", proto.ErrNotFound, name)
	}
	idx, held := st.locks.sentenceOf(user)
	if !held {
		return fmt.Errorf("%w: no open write session", proto.ErrBadRequest)
	}
	sent := &st.sentences[idx]
	if wordIndex < 0 || wordIndex > len(sent.Words) {
		return fmt.Errorf("%w: word index %d out of range", proto.ErrBadRequest, wordIndex)
	}

	tokens, delim, rest := parseEdit(content)
	sent.Words = insertWords(sent.Words, wordIndex, tokens)
	if delim == 0 {
		return nil
	}
	sent.Delim = delim

	rest = strings.TrimLeft(rest, " \t\n\r")
	if rest == "" {
		return nil
	}
	tail := parseRemainder(rest)
	st.sentences = insertSentence(st.sentences, idx+1, tail)
	st.locks.shiftAfter(idx)
	return nil
}

// WriteCommit persists the user's session: the live file is snapshotted
// to the undo area, the rebuilt text replaces it, metadata is updated,
// and the lock is released.
func (s *FileStore) WriteCommit(name, user string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.cache[name]
	if !ok {
		return fmt.Errorf("%w: %s", proto.ErrNotFound, name)
	}
	if _, held := st.locks.sentenceOf(user); !held {
		return fmt.Errorf("%w: no open write session", proto.ErrBadRequest)
	}

	if err := os.MkdirAll(filepath.Dir(s.undoPath(name)), 0o755); err == nil {
		if err := copyFile(s.filePath(name), s.undoPath(name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("undo snapshot failed")
		}
	}

	content := Rebuild(st.sentences)
	if err := os.WriteFile(s.filePath(name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", proto.ErrInternal, name, err)
	}

	now := time.Now().Unix()
	st.meta.Modified = now
	st.meta.Accessed = now
	if user != "" {
		st.meta.LastAccessUser = user
	}
	st.locks.remove(user)
	metrics.LocksHeld.Dec()
	metrics.CommitsTotal.Inc()
	if err := saveMetadata(s.metaPath(name), st.meta); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("save metadata")
	}
	return nil
}

// ReleaseSession drops the user's lock on a file when their connection
// goes away mid-session. If nobody else holds a lock on the file, the
// cached state is evicted so uncommitted edits vanish.
func (s *FileStore) ReleaseSession(name, user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.cache[name]
	if !ok {
		return
	}
	if _, held := st.locks.sentenceOf(user); !held {
		return
	}
	st.locks.remove(user)
	metrics.LocksHeld.Dec()
	if st.locks.empty() {
		s.evict(name)
	}
}

// Undo copies the last commit snapshot over the live file and reloads
// it. The snapshot is not consumed: a second undo restores the same
// text.
func (s *FileStore) Undo(name, user string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(name)
	if err != nil {
		return err
	}
	if err := checkAccess(st, user, true); err != nil {
		return err
	}
	b, err := os.ReadFile(s.undoPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: no undo snapshot", proto.ErrNotFound)
		}
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	if err := os.WriteFile(s.filePath(name), b, 0o644); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}

	st.sentences = Tokenize(string(b))
	now := time.Now().Unix()
	st.meta.Modified = now
	st.meta.Accessed = now
	if user != "" {
		st.meta.LastAccessUser = user
	}
	if err := saveMetadata(s.metaPath(name), st.meta); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("save metadata")
	}
	return nil
}

// Info renders the metadata summary string for one file.
func (s *FileStore) Info(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(name)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(s.filePath(name))
	if err != nil {
		return "", fmt.Errorf("%w: %s", proto.ErrNotFound, name)
	}

	var access strings.Builder
	fmt.Fprintf(&access, "%s (RW)", st.meta.Owner)
	for _, e := range st.meta.AccessList {
		mode := "-"
		switch {
		case e.CanRead() && e.CanWrite():
			mode = "RW"
		case e.CanWrite():
			mode = "W"
		case e.CanRead():
			mode = "R"
		}
		fmt.Fprintf(&access, ", %s (%s)", e.User, mode)
	}

	info := fmt.Sprintf("File:%s||Owner:%s||Created:%s||LastModified:%s||Size:%d bytes||Access:%s||LastAccessed:%s||LastAccessUser:%s",
		st.name,
		st.meta.Owner,
		time.Unix(st.meta.Created, 0).Format(infoTimeFormat),
		time.Unix(st.meta.Modified, 0).Format(infoTimeFormat),
		fi.Size(),
		access.String(),
		time.Unix(st.meta.Accessed, 0).Format(infoTimeFormat),
		st.meta.lastUser(),
	)
	return info, nil
}

// List renders the file listing. Flag "a" includes files the user has
// no access to; flag "l" adds per-file details. Entries are ";;"
// separated.
func (s *FileStore) List(flags, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	includeAll := strings.Contains(flags, "a")
	details := strings.Contains(flags, "l")

	names := make([]string, 0, len(s.cache))
	for name := range s.cache {
		names = append(names, name)
	}
	sort.Strings(names)

	var entries []string
	for _, name := range names {
		st := s.cache[name]
		if _, err := os.Stat(s.filePath(name)); err != nil {
			continue
		}
		hasAccess := st.meta.Owner == user || st.meta.entry(user) != nil
		if !includeAll && !hasAccess {
			continue
		}
		if details {
			text := Rebuild(st.sentences)
			entries = append(entries, fmt.Sprintf("%s | Owner: %s | Words: %d | Chars: %d | Modified: %s",
				name, st.meta.Owner, wordCount(st.sentences), len(text),
				time.Unix(st.meta.Modified, 0).Format(listTimeFormat)))
		} else {
			entries = append(entries, name)
		}
	}
	return strings.Join(entries, ";;"), nil
}

// AddAccess grants target read (mode "R") or read+write (mode "W").
// Only the owner may change the ACL.
func (s *FileStore) AddAccess(name, actor, target, mode string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(name)
	if err != nil {
		return err
	}
	if st.meta.Owner != actor {
		return proto.ErrUnauthorized
	}
	st.meta.grant(target, mode)
	if err := saveMetadata(s.metaPath(name), st.meta); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	return nil
}

// RemoveAccess revokes target's entry.
func (s *FileStore) RemoveAccess(name, actor, target string) error {
	if err := validName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(name)
	if err != nil {
		return err
	}
	if st.meta.Owner != actor {
		return proto.ErrUnauthorized
	}
	if !st.meta.revoke(target) {
		return fmt.Errorf("%w: no access entry for %s", proto.ErrNotFound, target)
	}
	if err := saveMetadata(s.metaPath(name), st.meta); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	return nil
}

// CreateFolder makes one directory level under the files root.
func (s *FileStore) CreateFolder(folder string) error {
	if err := validName(folder); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.filesDir(), folder)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", proto.ErrAlreadyExists, folder)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	return nil
}

// Move relocates a file (with its metadata and undo snapshot) under
// folder and renames the cached state. Checkpoints keep the old path.
func (s *FileStore) Move(name, folder string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := validName(folder); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	newName := folder + "/" + name
	if _, err := os.Stat(s.filePath(name)); err != nil {
		return fmt.Errorf("%w: %s", proto.ErrNotFound, name)
	}
	fi, err := os.Stat(filepath.Join(s.filesDir(), folder))
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: folder %s", proto.ErrNotFound, folder)
	}

	if err := os.Rename(s.filePath(name), s.filePath(newName)); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	// Metadata and undo follow best-effort; they may not exist yet.
	os.MkdirAll(filepath.Dir(s.metaPath(newName)), 0o755)
	os.Rename(s.metaPath(name), s.metaPath(newName))
	os.MkdirAll(filepath.Dir(s.undoPath(newName)), 0o755)
	os.Rename(s.undoPath(name), s.undoPath(newName))

	if st, ok := s.cache[name]; ok {
		delete(s.cache, name)
		st.name = newName
		s.cache[newName] = st
		if err := saveMetadata(s.metaPath(newName), st.meta); err != nil {
			s.logger.Warn().Err(err).Str("file", newName).Msg("save metadata")
		}
	}
	return nil
}

// ViewFolder lists the direct entries of a folder, ";;" separated.
func (s *FileStore) ViewFolder(folder string) (string, error) {
	if err := validName(folder); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.filesDir(), folder))
	if err != nil {
		return "", fmt.Errorf("%w: folder %s", proto.ErrNotFound, folder)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return strings.Join(names, ";;"), nil
}

// Checkpoint snapshots the current on-disk bytes under a tag,
// overwriting any previous snapshot with the same tag.
func (s *FileStore) Checkpoint(name, tag string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := validName(tag); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.filePath(name)); err != nil {
		return fmt.Errorf("%w: %s", proto.ErrNotFound, name)
	}
	dst := s.checkpointPath(name, tag)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	if err := copyFile(s.filePath(name), dst); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	return nil
}

// ViewCheckpoint returns the snapshot bytes verbatim.
func (s *FileStore) ViewCheckpoint(name, tag string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := validName(tag); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.checkpointPath(name, tag))
	if err != nil {
		return "", fmt.Errorf("%w: checkpoint %s/%s", proto.ErrNotFound, name, tag)
	}
	return string(b), nil
}

// Revert copies a snapshot over the live file and drops the cached
// state so the next access re-tokenizes.
func (s *FileStore) Revert(name, tag string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := validName(tag); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.checkpointPath(name, tag)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: checkpoint %s/%s", proto.ErrNotFound, name, tag)
	}
	if err := copyFile(src, s.filePath(name)); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrInternal, err)
	}
	s.evict(name)
	return nil
}

// ListCheckpoints returns the tags for a file, comma separated. A file
// with no checkpoint directory yields an empty list.
func (s *FileStore) ListCheckpoints(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.checkpointsDir(), name))
	if err != nil {
		return "", nil
	}
	var tags []string
	for _, e := range entries {
		tags = append(tags, e.Name())
	}
	sort.Strings(tags)
	return strings.Join(tags, ","), nil
}

// Files returns every stored file path, for registration with the name
// server.
func (s *FileStore) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanFiles()
}

func insertWords(words []string, idx int, toks []string) []string {
	out := make([]string, 0, len(words)+len(toks))
	out = append(out, words[:idx]...)
	out = append(out, toks...)
	out = append(out, words[idx:]...)
	return out
}

func insertSentence(sents []Sentence, idx int, s Sentence) []Sentence {
	out := make([]Sentence, 0, len(sents)+1)
	out = append(out, sents[:idx]...)
	out = append(out, s)
	out = append(out, sents[idx:]...)
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
