package nameserver

import (
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quillfs/quill/pkg/client"
	"github.com/quillfs/quill/pkg/config"
	"github.com/quillfs/quill/pkg/events"
	"github.com/quillfs/quill/pkg/log"
	"github.com/quillfs/quill/pkg/metrics"
	"github.com/quillfs/quill/pkg/proto"
	"github.com/quillfs/quill/pkg/types"
)

// Server is the name server: it accepts client and storage-server
// connections on one listener, answers routing queries directly, and
// proxies control-plane ops to the responsible storage server.
type Server struct {
	cfg     config.NameServerConfig
	cluster *Cluster
	store   *Store
	broker  *events.Broker
	det     *Detector
	repl    *Replicator
	logger  zerolog.Logger

	ln     net.Listener
	msrv   *http.Server
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// cliSession is the per-connection state: the last claimed username
// and whether it was registered (and not yet deregistered) on this
// connection.
type cliSession struct {
	user       string
	registered bool
}

// New wires up the name server from configuration. Pass persist=false
// to run without the on-disk state store (tests do).
func New(cfg config.NameServerConfig, persist bool) (*Server, error) {
	var store *Store
	if persist {
		var err error
		store, err = OpenStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
	}

	broker := events.NewBroker()
	cluster, err := NewCluster(store, broker)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		cluster: cluster,
		store:   store,
		broker:  broker,
		det:     NewDetector(cluster, cfg.SweepInterval, cfg.HeartbeatTimeout),
		repl:    NewReplicator(cfg.ReplicationWorkers, broker),
		logger:  log.WithComponent("nameserver"),
		stopCh:  make(chan struct{}),
	}, nil
}

// Cluster exposes the shared state, mainly for tests.
func (s *Server) Cluster() *Cluster {
	return s.cluster
}

// Start listens and launches the background loops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("name server listening")

	s.broker.Start()
	s.det.Start()

	s.wg.Add(1)
	go s.eventSink()

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

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop shuts everything down in reverse start order.
func (s *Server) Stop() {
	close(s.stopCh)
	s.ln.Close()
	s.det.Stop()
	s.repl.Stop()
	s.broker.Stop()
	s.wg.Wait()
	if s.msrv != nil {
		s.msrv.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// eventSink logs every cluster event.
func (s *Server) eventSink() {
	defer s.wg.Done()
	sub := s.broker.Subscribe()
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			s.logger.Info().
				Str("event", string(e.Type)).
				Interface("meta", e.Metadata).
				Msg(e.Message)
		case <-s.stopCh:
			return
		}
	}
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

	sess := &cliSession{}
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

	// A vanished client that never said goodbye is deregistered.
	if sess.registered {
		s.cluster.RemoveUser(sess.user)
	}
}

// dispatch handles one request; false drops the connection.
func (s *Server) dispatch(conn *proto.Conn, sess *cliSession, msg *proto.Message) bool {
	start := time.Now()
	var resp *proto.Message
	keepAlive := true

	switch msg.Op {
	case proto.OpSSRegister:
		var files []string
		if msg.Files != "" {
			files = strings.Split(msg.Files, ",")
		}
		s.cluster.Register(msg.SSID, msg.SSHost, msg.SSClientPort, msg.SSNMPort, files)
		resp = &proto.Message{Op: proto.OpNMAck}
		// Registration rides a short-lived connection.
		keepAlive = false

	case proto.OpSSHeartbeat:
		wasDown, err := s.cluster.Heartbeat(msg.SSID)
		switch {
		case err != nil:
			resp = proto.Fail(err)
		case wasDown:
			resp = &proto.Message{Op: proto.OpSSBackOnline}
		default:
			resp = proto.OK()
		}

	case proto.OpCliRegister:
		s.cluster.AddUser(msg.User)
		sess.registered = true
		resp = &proto.Message{Msg: "welcome"}

	case proto.OpCliDeregister:
		s.cluster.RemoveUser(msg.User)
		sess.registered = false
		resp = &proto.Message{Msg: "goodbye"}

	case proto.OpView:
		resp = &proto.Message{Files: strings.Join(s.cluster.FileNames(), "\n")}

	case proto.OpListUsers:
		resp = &proto.Message{Users: s.cluster.UserList()}

	case proto.OpViewRoute:
		resp = routeResponse(s.cluster.AnyLive())

	case proto.OpReadRoute, proto.OpWriteRoute, proto.OpStreamRoute:
		resp = routeResponse(s.cluster.Route(msg.File))

	case proto.OpCreate:
		resp = s.handleCreate(msg)

	case proto.OpDelete:
		resp = s.handleDelete(msg)

	case proto.OpInfo:
		resp = s.proxyToFile(msg.File, &proto.Message{Op: proto.OpInfo, File: msg.File, User: msg.User})

	case proto.OpAddAccess, proto.OpRemAccess:
		cmd := "ADD"
		if msg.Op == proto.OpRemAccess {
			cmd = "REM"
		}
		resp = s.proxyToFile(msg.File, &proto.Message{
			Op:         proto.OpNMAccess,
			File:       msg.File,
			Cmd:        cmd,
			Mode:       msg.Mode,
			TargetUser: msg.TargetUser,
			Actor:      msg.User,
		})

	case proto.OpExec:
		resp = s.handleExec(msg)

	case proto.OpCreateFolder, proto.OpViewFolder:
		route, err := s.cluster.AnyLive()
		if err != nil {
			resp = proto.Fail(err)
		} else {
			resp = s.proxy(route, msg)
		}

	case proto.OpMove, proto.OpCheckpoint, proto.OpViewCheckpoint, proto.OpRevert, proto.OpListCheckpoints:
		resp = s.handleFileWrite(msg)

	case proto.OpRequestAccess:
		requester := msg.Requester
		if requester == "" {
			requester = msg.User
		}
		if err := s.cluster.RequestAccess(msg.File, requester, msg.Owner); err != nil {
			resp = proto.Fail(err)
		} else {
			resp = &proto.Message{Msg: "access request sent"}
		}

	case proto.OpViewRequests:
		resp = &proto.Message{Requests: s.cluster.PendingFor(msg.User)}

	case proto.OpRespondRequest:
		resp = s.handleRespond(msg)

	default:
		resp = proto.FailStatus(proto.StatusBadRequest, "unsupported op: "+msg.Op)
	}

	metrics.RequestsTotal.WithLabelValues("nameserver", msg.Op, resp.Status.String()).Inc()
	metrics.RequestDuration.WithLabelValues("nameserver", msg.Op).Observe(time.Since(start).Seconds())
	if err := conn.Write(resp); err != nil {
		return false
	}
	return keepAlive
}

func routeResponse(r types.ResolvedRoute, err error) *proto.Message {
	if err != nil {
		return proto.Fail(err)
	}
	return &proto.Message{
		Op:        proto.OpRoute,
		SSID:      r.SSID,
		SSHost:    r.Host,
		SSPort:    r.Port,
		IsReplica: r.IsReplica,
	}
}

// proxy forwards one request to a storage server endpoint and returns
// its response. Transport failures surface as internal errors.
func (s *Server) proxy(route types.ResolvedRoute, req *proto.Message) *proto.Message {
	addr := fmt.Sprintf("%s:%d", route.Host, route.Port)
	resp, err := client.Call(addr, req)
	if err != nil {
		s.logger.Warn().Err(err).Str("ss_id", route.SSID).Str("op", req.Op).Msg("storage proxy failed")
		return proto.FailStatus(proto.StatusInternal, "storage server unreachable")
	}
	return resp
}

// proxyToFile resolves the file's route and forwards the request.
func (s *Server) proxyToFile(file string, req *proto.Message) *proto.Message {
	route, err := s.cluster.Route(file)
	if err != nil {
		return proto.Fail(err)
	}
	return s.proxy(route, req)
}

func (s *Server) handleCreate(msg *proto.Message) *proto.Message {
	route, err := s.cluster.AnyLive()
	if err != nil {
		return proto.Fail(err)
	}
	resp := s.proxy(route, &proto.Message{Op: proto.OpNMCreate, File: msg.File, Owner: msg.User})
	if resp.Status == proto.StatusOK {
		s.cluster.MapFile(msg.File, route.SSID)
	}
	return resp
}

func (s *Server) handleDelete(msg *proto.Message) *proto.Message {
	route, err := s.cluster.Route(msg.File)
	if err != nil {
		return proto.Fail(err)
	}
	resp := s.proxy(route, &proto.Message{Op: proto.OpNMDelete, File: msg.File, User: msg.User})
	if resp.Status == proto.StatusOK {
		s.cluster.DeleteRoute(msg.File)
	}
	return resp
}

// handleFileWrite proxies MOVE/CHECKPOINT/VIEWCHECKPOINT/REVERT/
// LISTCHECKPOINTS through the replication-aware route. Successful
// mutations are shipped to the replica asynchronously and MOVE renames
// the routing entry.
func (s *Server) handleFileWrite(msg *proto.Message) *proto.Message {
	route, err := s.cluster.Route(msg.File)
	if err != nil {
		return proto.Fail(err)
	}

	// Resolve the replica before MOVE renames the route.
	raddr, hasReplica := s.cluster.ReplicaEndpoint(msg.File)

	resp := s.proxy(route, msg)
	if resp.Status != proto.StatusOK {
		return resp
	}

	if msg.Op == proto.OpMove && msg.Folder != "" {
		s.cluster.RenameRoute(msg.File, msg.Folder+"/"+msg.File)
	}

	mutating := msg.Op == proto.OpMove || msg.Op == proto.OpCheckpoint || msg.Op == proto.OpRevert
	if mutating && hasReplica && !route.IsReplica {
		s.repl.Enqueue(raddr, msg)
	}
	return resp
}

// handleExec fetches the file's content from its storage server and
// runs it through the shell, returning stdout. Disabled by default.
func (s *Server) handleExec(msg *proto.Message) *proto.Message {
	if !s.cfg.ExecEnabled {
		return proto.FailStatus(proto.StatusOutOfScope, "exec disabled")
	}
	resp := s.proxyToFile(msg.File, &proto.Message{Op: proto.OpGetContent, File: msg.File, User: msg.User})
	if resp.Status != proto.StatusOK {
		return resp
	}
	out, err := exec.Command("sh", "-c", resp.Content).Output()
	if err != nil {
		return proto.FailStatus(proto.StatusInternal, "exec failed")
	}
	return &proto.Message{Output: string(out)}
}

func (s *Server) handleRespond(msg *proto.Message) *proto.Message {
	req, err := s.cluster.Respond(msg.File, msg.Requester, msg.User)
	if err != nil {
		return proto.Fail(err)
	}
	if msg.Approve != 1 {
		return &proto.Message{Msg: "request denied"}
	}

	// Grant read access on the storage server in the owner's name.
	// Best effort: the approval stands even if the grant fails.
	grant := s.proxyToFile(req.File, &proto.Message{
		Op:         proto.OpNMAccess,
		File:       req.File,
		Cmd:        "ADD",
		Mode:       "R",
		TargetUser: req.Requester,
		Actor:      req.Owner,
	})
	if grant.Status != proto.StatusOK {
		s.logger.Warn().Str("file", req.File).Str("requester", req.Requester).
			Int("status", int(grant.Status)).Msg("access grant not applied")
	} else {
		s.broker.Publish(events.New(events.EventAccessGranted, "access granted",
			map[string]string{"file": req.File, "requester": req.Requester}))
	}
	return &proto.Message{Msg: "request approved"}
}
