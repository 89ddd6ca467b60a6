package ioctlsrv

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"

	"github.com/xdpgeneric/xdpgeneric/internal/logging"
	"github.com/xdpgeneric/xdpgeneric/internal/oid"
)

func oidFromWire(v uint32) oid.OID       { return oid.OID(v) }
func methodFromWire(v int) oid.Method    { return oid.Method(v) }

// wireRequest/wireResponse are the JSON-over-Unix-domain-socket framing
// of Request/Response. A Request's OIDCode/OIDMethod fields are
// flattened to scalars. wireRequest has no classify.Rule field of its
// own, keeping this package's wire format decoupled from the
// classifier's internal representation; handleConn does not decode
// Data into a rule list, so an OpRxFilter request received over the
// socket reaches Server.Handle with a nil Rules field.
type wireRequest struct {
	Op           Op
	Queue        int
	Index        int
	Data         []byte
	OIDCode      uint32
	OIDMethod    int
	MinBufferLen int
}

type wireResponse struct {
	Code                                 ExitCode
	Data                                 []byte
	BytesRead, BytesWritten, BytesNeeded uint32
}

// Listener accepts Requests over a Unix domain socket, for callers
// that live outside this process. Grounded on the teacher's
// internal/ctrl Controller (one long-lived handle opened once, closed
// once) translated from a device file descriptor to a socket listener
// — there is no ioctl(2) analogue for a userspace packet engine, so
// this is the out-of-process transport the package doc comment
// promises. Uses stdlib net + encoding/json rather than a third-party
// RPC framework: none of the example repos pull in a generic IPC/RPC
// library, and gRPC-scale framing is unwarranted for a fixed ten-op
// control surface.
type Listener struct {
	ln     net.Listener
	server *Server
	log    *logging.Logger
}

// Listen opens a Unix domain socket at path and serves srv's Handle
// over it. The socket file is removed first if a stale one exists
// (the original equivalent is a single well-known device node, never
// shared by two live driver instances at once).
func Listen(path string, srv *Server) (*Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, server: srv, log: logging.Default().WithRequest(0, "ioctlsrv")}, nil
}

// Serve accepts connections until the listener is closed, handling
// each on its own goroutine. One connection carries a stream of
// newline-delimited JSON requests/responses; a caller may reuse a
// connection for multiple Requests.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var wreq wireRequest
		if err := dec.Decode(&wreq); err != nil {
			if err != io.EOF {
				l.log.WithError(err).Warn("ioctlsrv: decode request failed")
			}
			return
		}
		resp := l.server.Handle(Request{
			Op:           wreq.Op,
			Queue:        wreq.Queue,
			Index:        wreq.Index,
			Data:         wreq.Data,
			OIDCode:      oidFromWire(wreq.OIDCode),
			OIDMethod:    methodFromWire(wreq.OIDMethod),
			MinBufferLen: wreq.MinBufferLen,
		})
		wresp := wireResponse{
			Code:         resp.Code,
			Data:         resp.Data,
			BytesRead:    resp.BytesRead,
			BytesWritten: resp.BytesWritten,
			BytesNeeded:  resp.BytesNeeded,
		}
		if err := enc.Encode(&wresp); err != nil {
			l.log.WithError(err).Warn("ioctlsrv: encode response failed")
			return
		}
	}
}

// Close stops accepting new connections. Connections already accepted
// are not closed; each keeps being served until its peer closes it or
// a decode/encode fails.
func (l *Listener) Close() error {
	return l.ln.Close()
}
