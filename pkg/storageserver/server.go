package storageserver

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quillfs/quill/pkg/client"
	"github.com/quillfs/quill/pkg/config"
	"github.com/quillfs/quill/pkg/log"
	"github.com/quillfs/quill/pkg/metrics"
	"github.com/quillfs/quill/pkg/proto"
)

// Server is one storage server: it owns a FileStore, serves the line
// protocol to clients and the name server, and keeps itself registered
// with periodic heartbeats.
type Server struct {
	cfg    config.StorageConfig
	store  *FileStore
	logger zerolog.Logger

	ln     net.Listener
	hb     *Heartbeater
	msrv   *http.Server
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// session is the per-connection state: the last claimed username and
// the files with open write sessions. writeFile is the most recent one;
// edits and commits arriving without an explicit file target it. The
// connection itself delimits the sessions.
type session struct {
	user      string
	writeFile string
	open      map[string]struct{}
}

// New creates a storage server around an opened store.
func New(cfg config.StorageConfig, store *FileStore) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("storage").With().Str("ss_id", cfg.ID).Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start listens, registers with the name server, and begins accepting
// connections. Registration is skipped when no name server address is
// configured.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	port := ln.Addr().(*net.TCPAddr).Port
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("storage server listening")

	if s.cfg.NMAddr != "" {
		if err := s.register(port); err != nil {
			ln.Close()
			return err
		}
		s.hb = NewHeartbeater(s.cfg.ID, s.cfg.NMAddr, s.cfg.HeartbeatInterval)
		s.hb.Start()
	}

	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.msrv = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := s.msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound client address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop shuts the server down and waits for the accept loop.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.hb != nil {
		s.hb.Stop()
	}
	if s.msrv != nil {
		s.msrv.Close()
	}
	s.ln.Close()
	s.wg.Wait()
}

// register announces this node and its files to the name server,
// retrying with backoff while the name server comes up.
func (s *Server) register(port int) error {
	req := &proto.Message{
		Op:           proto.OpSSRegister,
		SSID:         s.cfg.ID,
		SSHost:       s.cfg.Host,
		SSClientPort: port,
		SSNMPort:     port,
		Files:        strings.Join(s.store.Files(), ","),
	}

	var lastErr error
	for i := 0; i < s.cfg.RegisterRetries; i++ {
		resp, err := client.Call(s.cfg.NMAddr, req)
		if err == nil && resp.Status == proto.StatusOK {
			s.logger.Info().Str("nm", s.cfg.NMAddr).Msg("registered with name server")
			return nil
		}
		if err == nil {
			err = fmt.Errorf("registration rejected: status %d", resp.Status)
		}
		lastErr = err
		s.logger.Warn().Err(err).Int("attempt", i+1).Msg("registration failed, retrying")
		time.Sleep(s.cfg.RegisterBackoff)
	}
	return fmt.Errorf("register with %s: %w", s.cfg.NMAddr, lastErr)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(nc)
		}()
	}
}

func (s *Server) handleConn(nc net.Conn) {
	conn := proto.NewConn(nc)
	defer conn.Close()

	sess := &session{open: make(map[string]struct{})}
	for {
		msg, err := conn.Read()
		if err != nil {
			break
		}
		if msg.User != "" {
			sess.user = msg.User
		} else {
			msg.User = sess.user
		}
		if !s.dispatch(conn, sess, msg) {
			break
		}
	}

	// Losing the connection cancels every open write session.
	for name := range sess.open {
		s.store.ReleaseSession(name, sess.user)
	}
}

// dispatch handles one request. It returns false when the connection
// should be dropped.
func (s *Server) dispatch(conn *proto.Conn, sess *session, msg *proto.Message) bool {
	start := time.Now()
	var resp *proto.Message

	switch msg.Op {
	case proto.OpRead:
		content, err := s.store.Read(msg.File, msg.User)
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Op: proto.OpData, Content: content}
		}

	case proto.OpGetContent:
		content, err := s.store.Read(msg.File, msg.User)
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Content: content}
		}

	case proto.OpWriteBegin:
		if err := s.store.WriteBegin(msg.File, msg.User, msg.SentenceIdx); err != nil {
			resp = proto.Fail(err)
		} else {
			sess.writeFile = msg.File
			sess.open[msg.File] = struct{}{}
			resp = &proto.Message{Msg: "lock acquired"}
		}

	case proto.OpWriteEdit:
		file := sess.writeFile
		if file == "" {
			resp = proto.FailStatus(proto.StatusBadRequest, "no open write session")
			break
		}
		if err := s.store.WriteEdit(file, msg.User, msg.WordIndex, msg.Content); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "edit applied"}
		}

	case proto.OpWriteCommit:
		file := msg.File
		if file == "" {
			file = sess.writeFile
		}
		if err := s.store.WriteCommit(file, msg.User); err != nil {
			resp = proto.Fail(err)
		} else {
			delete(sess.open, file)
			if sess.writeFile == file {
				sess.writeFile = ""
			}
			resp = &proto.Message{Msg: "committed"}
		}

	case proto.OpUndo:
		if err := s.store.Undo(msg.File, msg.User); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "undo successful"}
		}

	case proto.OpStream:
		return s.stream(conn, msg, start)

	case proto.OpInfo:
		info, err := s.store.Info(msg.File)
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Op: proto.OpInfo, Info: info}
		}

	case proto.OpList:
		files, err := s.store.List(msg.Flags, msg.User)
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Op: proto.OpList, Files: files}
		}

	case proto.OpNMCreate:
		if err := s.store.Create(msg.File, msg.Owner); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "file created"}
		}

	case proto.OpNMDelete:
		if err := s.store.Delete(msg.File, msg.User); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "deleted"}
		}

	case proto.OpNMAccess:
		var err error
		switch msg.Cmd {
		case "ADD":
			err = s.store.AddAccess(msg.File, msg.Actor, msg.TargetUser, msg.Mode)
		case "REM":
			err = s.store.RemoveAccess(msg.File, msg.Actor, msg.TargetUser)
		default:
			err = fmt.Errorf("%w: unknown access cmd %q", proto.ErrBadRequest, msg.Cmd)
		}
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "access updated"}
		}

	case proto.OpCreateFolder:
		if err := s.store.CreateFolder(msg.Folder); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "folder created"}
		}

	case proto.OpViewFolder:
		files, err := s.store.ViewFolder(msg.Folder)
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Files: files}
		}

	case proto.OpMove:
		if err := s.store.Move(msg.File, msg.Folder); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "file moved"}
		}

	case proto.OpCheckpoint:
		if err := s.store.Checkpoint(msg.File, msg.Tag); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "checkpoint created"}
		}

	case proto.OpViewCheckpoint:
		content, err := s.store.ViewCheckpoint(msg.File, msg.Tag)
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Content: content}
		}

	case proto.OpRevert:
		if err := s.store.Revert(msg.File, msg.Tag); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "file reverted"}
		}

	case proto.OpListCheckpoints:
		tags, err := s.store.ListCheckpoints(msg.File)
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Checkpoints: tags}
		}

	default:
		resp = proto.FailStatus(proto.StatusBadRequest, "unsupported op: "+msg.Op)
	}

	s.observe(msg.Op, resp.Status, start)
	return conn.Write(resp) == nil
}

// stream emits every word of the file as its own TOK message, paced by
// the configured delay, then a STOP marker.
func (s *Server) stream(conn *proto.Conn, msg *proto.Message, start time.Time) bool {
	words, err := s.store.Words(msg.File, msg.User)
	if err != nil {
		s.observe(msg.Op, proto.StatusOf(err), start)
		return conn.Write(proto.Fail(err)) == nil
	}
	for _, w := range words {
		if err := conn.Write(&proto.Message{Op: proto.OpTok, Word: w}); err != nil {
			return false
		}
		if s.cfg.StreamDelay > 0 {
			time.Sleep(s.cfg.StreamDelay)
		}
	}
	s.observe(msg.Op, proto.StatusOK, start)
	return conn.Write(&proto.Message{Op: proto.OpStop}) == nil
}

func (s *Server) observe(op string, status proto.Status, start time.Time) {
	metrics.RequestsTotal.WithLabelValues("storage", op, status.String()).Inc()
	metrics.RequestDuration.WithLabelValues("storage", op).Observe(time.Since(start).Seconds())
}
