package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	graphderrors "github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/health"
	"github.com/vortexaudio/graphd/pkg/worker"
	"github.com/vortexaudio/graphd/registry"
	"github.com/vortexaudio/graphd/request"
)

// Server is the engine's Connection Server (spec §4.7).
type Server struct {
	reg        ClientRegistrar
	types      PortTypeSource
	dispatcher RequestDispatcher
	acks       AckInstaller
	inproc     InProcessRegistrar
	loader     PluginLoader
	health     *health.Monitor

	cfg Config

	handshakePool *worker.Pool[net.Conn]
}

// New wires a Server. health may be nil (a Monitor is created). loader
// defaults to StdPluginLoader if nil.
func New(reg ClientRegistrar, types PortTypeSource, dispatcher RequestDispatcher, acks AckInstaller, inproc InProcessRegistrar, loader PluginLoader, monitor *health.Monitor, cfg Config) *Server {
	if loader == nil {
		loader = StdPluginLoader{}
	}
	if monitor == nil {
		monitor = health.NewMonitor()
	}
	return &Server{
		reg:        reg,
		types:      types,
		dispatcher: dispatcher,
		acks:       acks,
		inproc:     inproc,
		loader:     loader,
		health:     monitor,
		cfg:        cfg,
	}
}

// Serve listens on both endpoints and blocks until ctx is cancelled or a
// fatal error occurs — the same "first error cancels the rest" shape the
// composition root uses for every other long-running component.
func (s *Server) Serve(ctx context.Context) error {
	reqListener, err := net.Listen(s.cfg.Network, s.cfg.RequestAddr)
	if err != nil {
		return graphderrors.WrapFatal(err, "server", "Serve", "listen on request socket")
	}
	ackListener, err := net.Listen(s.cfg.Network, s.cfg.EventAddr)
	if err != nil {
		_ = reqListener.Close()
		return graphderrors.WrapFatal(err, "server", "Serve", "listen on event-ack socket")
	}

	s.handshakePool = worker.NewPool[net.Conn](s.cfg.HandshakeWorkers, s.cfg.HandshakeQueueSize, s.serveRequestConn)
	if err := s.handshakePool.Start(ctx); err != nil {
		_ = reqListener.Close()
		_ = ackListener.Close()
		return graphderrors.WrapFatal(err, "server", "Serve", "start handshake pool")
	}
	defer func() { _ = s.handshakePool.Stop(5 * time.Second) }()

	s.health.UpdateHealthy("connection-server", "listening")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptRequests(gctx, reqListener)
	})
	g.Go(func() error {
		return s.acceptAcks(gctx, ackListener)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = reqListener.Close()
		_ = ackListener.Close()
		return nil
	})

	return g.Wait()
}

func (s *Server) acceptRequests(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return graphderrors.WrapTransient(err, "server", "acceptRequests", "accept")
		}
		if submitErr := s.handshakePool.Submit(conn); submitErr != nil {
			slog.Error("connection server: handshake queue full, dropping connection", "error", submitErr)
			_ = conn.Close()
		}
	}
}

func (s *Server) acceptAcks(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return graphderrors.WrapTransient(err, "server", "acceptAcks", "accept")
		}
		go s.serveAckConn(conn)
	}
}

func (s *Server) serveAckConn(conn net.Conn) {
	var hs AckHandshake
	if err := readFrame(conn, &hs); err != nil {
		slog.Error("connection server: malformed ack handshake", "error", err)
		_ = conn.Close()
		return
	}
	s.acks.InstallExternal(hs.ClientID, conn)
}

// serveRequestConn is the handshake pool's processor: one worker owns one
// connection for its whole lifetime, handshake through disconnect.
func (s *Server) serveRequestConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	token := uuid.New().String()

	var req HandshakeRequest
	if err := readFrame(conn, &req); err != nil {
		return graphderrors.WrapInvalid(err, "server", "serveRequestConn", "read handshake")
	}
	slog.Info("connection server: handshake received", "token", token, "name", req.Name, "unload", req.Unload)

	if req.Unload {
		return s.handleUnload(conn, req, token)
	}
	return s.handleLoad(ctx, conn, req, token)
}

func (s *Server) handleUnload(conn net.Conn, req HandshakeRequest, token string) error {
	client, err := s.reg.GetByName(req.Name)
	if err != nil {
		return writeFrame(conn, HandshakeReply{Status: 1, Err: err.Error(), SessionToken: token})
	}

	if err := s.dispatcher.DeactivateClient(client.ID); err != nil {
		slog.Error("connection server: deactivate on unload failed", "token", token, "client", client.Name, "error", err)
	}
	s.inproc.UnregisterInProcess(client.ID)
	s.acks.Remove(client.ID)
	if err := s.reg.Remove(client.ID); err != nil {
		return writeFrame(conn, HandshakeReply{Status: 1, Err: err.Error(), SessionToken: token})
	}

	return writeFrame(conn, HandshakeReply{Status: 0, ClientID: client.ID, SessionToken: token})
}

func (s *Server) handleLoad(ctx context.Context, conn net.Conn, req HandshakeRequest, token string) error {
	id, err := s.reg.Register(req.Name, req.ClientType, req.PID)
	if err != nil {
		return writeFrame(conn, HandshakeReply{Status: 1, Err: err.Error(), SessionToken: token})
	}

	if req.ClientType == registry.ClientInProcess {
		fn, err := s.loader.Load(req.PluginPath, req.PluginSymbol)
		if err != nil {
			_ = s.reg.Remove(id)
			return writeFrame(conn, HandshakeReply{Status: 1, Err: err.Error(), SessionToken: token})
		}
		s.inproc.RegisterInProcess(id, fn)
	}

	reply := HandshakeReply{
		Status:           0,
		ClientID:         id,
		RealTime:         s.cfg.RealTime,
		Priority:         s.cfg.Priority,
		ControlBlockName: fmt.Sprintf("/graphd-client-%d-control", id),
		SessionToken:     token,
	}
	if err := writeFrame(conn, reply); err != nil {
		return err
	}

	if req.ClientType == registry.ClientInProcess {
		// In-process clients call straight into the request plane's Go
		// API from wherever they were loaded; there is no ongoing wire
		// session for them to hold open.
		return nil
	}

	if err := writeFrame(conn, PortTypeListFrame{Types: s.types.Types()}); err != nil {
		return err
	}

	return s.sessionLoop(ctx, conn, id)
}

// sessionLoop is the request-socket protocol for the remainder of an
// external client's connection: read a RequestEnvelope, dispatch into
// package request, reply, repeat until disconnect.
func (s *Server) sessionLoop(ctx context.Context, conn net.Conn, clientID int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req RequestEnvelope
		if err := readFrame(conn, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return nil // a malformed/lost client ends its own session, not the server
		}

		s.dispatchRequest(conn, clientID, req)
	}
}

func (s *Server) dispatchRequest(conn net.Conn, clientID int, req RequestEnvelope) {
	if req.Kind == request.KindGetPortConnections {
		ports, err := s.dispatcher.GetPortConnections(req.PortID)
		reply := GetPortConnectionsReply{Ports: ports}
		if err != nil {
			reply.Status, reply.Err = 1, err.Error()
		}
		if werr := writeFrame(conn, reply); werr != nil {
			slog.Error("connection server: write GetPortConnections reply failed", "error", werr)
		}
		return
	}

	reply := s.dispatchGeneric(clientID, req)
	if err := writeFrame(conn, reply); err != nil {
		slog.Error("connection server: write reply failed", "kind", req.Kind, "error", err)
	}
}

func (s *Server) dispatchGeneric(clientID int, req RequestEnvelope) ResponseEnvelope {
	var err error
	reply := ResponseEnvelope{}

	switch req.Kind {
	case request.KindRegisterPort:
		reply.PortID, err = s.dispatcher.RegisterPort(clientID, req.PortName, req.PortTypeID, req.PortFlags)
	case request.KindUnRegisterPort:
		err = s.dispatcher.UnRegisterPort(req.PortID, clientID)
	case request.KindConnectPorts:
		err = s.dispatcher.ConnectPorts(req.SourcePort, req.DestPort)
	case request.KindDisconnectPort:
		err = s.dispatcher.DisconnectPort(req.SourcePort, req.DestPort)
	case request.KindDisconnectPorts:
		err = s.dispatcher.DisconnectPorts(req.PortID)
	case request.KindActivateClient:
		err = s.dispatcher.ActivateClient(clientID)
	case request.KindDeactivateClient:
		err = s.dispatcher.DeactivateClient(clientID)
	case request.KindSetTimeBaseClient:
		err = s.dispatcher.SetTimeBaseClient(clientID)
	case request.KindSetClientCapabilities:
		err = s.dispatcher.SetClientCapabilities(clientID, req.Capabilities)
	case request.KindGetPortNConnections:
		reply.NConnections, err = s.dispatcher.GetPortNConnections(req.PortID)
	case request.KindSetPortMonitor:
		reply.RefCount, err = s.dispatcher.SetPortMonitor(req.PortID, req.MonitorEnable)
	default:
		err = fmt.Errorf("unknown request kind %q", req.Kind)
	}

	if err != nil {
		reply.Status, reply.Err = 1, err.Error()
	}
	return reply
}
