package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/isearch/isearch/pkg/embed"
	"github.com/isearch/isearch/pkg/service"
	"github.com/isearch/isearch/pkg/store"
)

// ErrServerClosed is returned by Serve after a call to Close.
var ErrServerClosed = errors.New("rpc: server closed")

// Server answers RPC requests against a service.Service.
type Server struct {
	svc *service.Service
	log *slog.Logger

	mu         sync.Mutex
	ln         net.Listener
	socketPath string
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
	wg         sync.WaitGroup
}

// NewServer creates a Server for the given service.
func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:   svc,
		log:   logger,
		conns: make(map[net.Conn]struct{}),
	}
}

// Listen binds the server to the given address. A bind matching host:port
// listens on TCP; anything else is a unix socket path. A stale socket file
// left by a dead process is removed before binding.
func (s *Server) Listen(bind string) error {
	if IsHostPort(bind) {
		ln, err := net.Listen("tcp", bind)
		if err != nil {
			return fmt.Errorf("rpc: listen %s: %w", bind, err)
		}
		s.mu.Lock()
		s.ln = ln
		s.mu.Unlock()
		return nil
	}

	if _, err := os.Stat(bind); err == nil {
		// Socket file exists; if nothing answers it is stale.
		conn, err := net.Dial("unix", bind)
		if err == nil {
			conn.Close()
			return fmt.Errorf("rpc: %s is already in use", bind)
		}
		s.log.Warn("removing stale socket", "path", bind)
		if err := os.Remove(bind); err != nil {
			return fmt.Errorf("rpc: remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", bind)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", bind, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.socketPath = bind
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until Close. Each connection is handled on its
// own goroutine.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rpc: Serve before Listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

// Close stops accepting, closes open connections, waits for handlers to
// finish, and removes the socket file.
func (s *Server) Close() error {
	if s.inShutdown.Swap(true) {
		return nil
	}

	s.mu.Lock()
	ln := s.ln
	for conn := range s.conns {
		conn.Close()
	}
	socketPath := s.socketPath
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	if socketPath != "" {
		os.Remove(socketPath)
	}
	return err
}

// serveConn reads requests off one connection until it drops.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.With("remote", conn.RemoteAddr().String())

	for {
		var req Request
		if err := readMessage(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !s.inShutdown.Load() {
				log.Debug("connection read failed", "error", err)
			}
			return
		}

		resp := s.dispatch(context.Background(), &req)
		if err := writeMessage(conn, resp); err != nil {
			log.Debug("connection write failed", "error", err)
			return
		}
	}
}

// dispatch routes one request to the service. Service errors become the
// response's Error string; the connection stays healthy.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	result, err := s.handle(ctx, req.Method, req.Args)
	resp := &Response{ID: req.ID}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	body, err := msgpack.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("rpc: encode result: %v", err)
		return resp
	}
	resp.Result = body
	return resp
}

func decodeArgs[T any](raw msgpack.RawMessage) (T, error) {
	var args T
	if err := msgpack.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("rpc: decode args: %w", err)
	}
	return args, nil
}

func (s *Server) handle(ctx context.Context, method string, raw msgpack.RawMessage) (any, error) {
	switch method {
	case MethodAdd:
		args, err := decodeArgs[AddArgs](raw)
		if err != nil {
			return nil, err
		}
		items := make(map[string]embed.Payload, len(args.Items))
		for label, wp := range args.Items {
			p, err := wp.ToPayload()
			if err != nil {
				return nil, err
			}
			items[label] = p
		}
		return AddResult{Accepted: s.svc.AddItems(args.DB, items)}, nil

	case MethodSearch:
		args, err := decodeArgs[SearchArgs](raw)
		if err != nil {
			return nil, err
		}
		p, err := args.Payload.ToPayload()
		if err != nil {
			return nil, err
		}
		reply, err := s.svc.Search(ctx, args.DB, p, args.K, args.MinSimilarity)
		if err != nil {
			return nil, err
		}
		result := SearchResult{Status: reply.Status.String()}
		for _, m := range reply.Matches {
			result.Matches = append(result.Matches, Match{Label: m.Label, Similarity: m.Similarity})
		}
		return result, nil

	case MethodHas:
		args, err := decodeArgs[HasArgs](raw)
		if err != nil {
			return nil, err
		}
		present, err := s.svc.HasLabels(ctx, args.DB, args.Labels)
		if err != nil {
			return nil, err
		}
		return HasResult{Present: present}, nil

	case MethodInfo:
		args, err := decodeArgs[InfoArgs](raw)
		if err != nil {
			return nil, err
		}
		info, err := s.svc.Info(ctx, args.DB)
		if err != nil {
			return nil, err
		}
		return InfoResult{Name: info.Name, Size: info.Size, Capacity: info.Capacity, Dim: info.Dim}, nil

	case MethodList:
		stores, err := s.svc.List(ctx)
		if err != nil {
			return nil, err
		}
		return ListResult{Stores: stores}, nil

	case MethodClear:
		args, err := decodeArgs[ClearArgs](raw)
		if err != nil {
			return nil, err
		}
		return struct{}{}, s.svc.Clear(ctx, args.DB)

	case MethodDelete:
		args, err := decodeArgs[DeleteArgs](raw)
		if err != nil {
			return nil, err
		}
		refs := make([]store.Ref, 0, len(args.Labels)+len(args.Keys))
		for _, label := range args.Labels {
			refs = append(refs, store.Ref{Label: label})
		}
		for _, key := range args.Keys {
			refs = append(refs, store.Ref{Key: key})
		}
		return struct{}{}, s.svc.Delete(ctx, args.DB, refs, args.Rebuild)

	case MethodDrop:
		args, err := decodeArgs[DropArgs](raw)
		if err != nil {
			return nil, err
		}
		return struct{}{}, s.svc.Drop(ctx, args.DB)

	case MethodCompare:
		args, err := decodeArgs[CompareArgs](raw)
		if err != nil {
			return nil, err
		}
		a, err := args.A.ToPayload()
		if err != nil {
			return nil, err
		}
		b, err := args.B.ToPayload()
		if err != nil {
			return nil, err
		}
		sim, err := s.svc.Compare(ctx, a, b)
		if err != nil {
			return nil, err
		}
		return CompareResult{Similarity: sim}, nil

	case MethodPing:
		return PingResult{Pending: s.svc.Pending()}, nil

	default:
		return nil, fmt.Errorf("rpc: unknown method %q", method)
	}
}
