// Package daemonconn implements the DaemonChannel transport: a framed
// message stream carried over an AF_UNIX socket to the daemon process,
// built on a listen/accept loop with one read goroutine per connection.
package daemonconn

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/example/x11clipbridge/internal/wire"
)

// ErrClosed is returned from Send once the channel has been closed.
var ErrClosed = errors.New("daemonconn: closed")

func closeWithLog(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Printf("%s: close: %v", name, err)
	}
}

func removeWithLog(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("remove %s: %v", path, err)
	}
}

// Conn is one framed DaemonChannel connection. Writes are serialized
// through an internal queue so callers on different goroutines (the
// Coordinator, an outbound INCR tick) never interleave partial frames; reads
// are delivered to the caller's Messages channel by a dedicated goroutine.
type Conn struct {
	nc net.Conn

	writeCh chan []byte
	done    chan struct{}
	wg      sync.WaitGroup

	messages chan wire.Message
	errs     chan error

	closeOnce sync.Once
	closeErr  error
}

// wrap adapts an already-established net.Conn (from Dial or Accept) into a
// Conn, starting its reader and writer goroutines.
func wrap(nc net.Conn) *Conn {
	c := &Conn{
		nc:       nc,
		writeCh:  make(chan []byte, 64),
		done:     make(chan struct{}),
		messages: make(chan wire.Message, 64),
		errs:     make(chan error, 1),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Dial connects to the daemon's listening socket at path.
func Dial(path string) (*Conn, error) {
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("daemonconn: dial %s: %w", path, err)
	}
	return wrap(nc), nil
}

// Messages returns the channel of decoded frames read from the peer. It is
// closed once the connection ends; the terminal error, if any, is available
// from Err after the channel closes.
func (c *Conn) Messages() <-chan wire.Message { return c.messages }

// Err returns the error that ended the connection, or nil on a clean close.
func (c *Conn) Err() error {
	select {
	case err := <-c.errs:
		return err
	default:
		return nil
	}
}

// reportErr records the first terminal error from either loop. errs has
// room for one; whichever side notices the break first wins, and the other
// side's send is dropped rather than blocking on a channel nobody drains
// again.
func (c *Conn) reportErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer close(c.messages)
	dec := &wire.Decoder{}
	buf := make([]byte, 64<<10)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			msgs, decErr := dec.Feed(buf[:n])
			for _, m := range msgs {
				select {
				case c.messages <- m:
				case <-c.done:
					return
				}
			}
			if decErr != nil {
				c.reportErr(decErr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.reportErr(err)
			}
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case frame, ok := <-c.writeCh:
			if !ok {
				return
			}
			if _, err := c.nc.Write(frame); err != nil {
				c.reportErr(err)
				go c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Send queues a message for delivery, encoding it to wire format. Send
// never blocks on the network; it only blocks if the internal queue is
// full, which indicates the peer has stopped reading.
func (c *Conn) Send(msgType wire.MessageType, arg1, arg2 uint32, payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	frame := wire.Encode(wire.Message{Type: msgType, Arg1: arg1, Arg2: arg2, Payload: payload})
	select {
	case c.writeCh <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close shuts down both goroutines and the underlying connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.nc.Close()
		c.wg.Wait()
	})
	return c.closeErr
}

// Handle is an opaque identifier for a connection accepted by a Server,
// mirroring the udscs_connection pointer the original server code uses to
// key its client list.
type Handle uint64

type serverConn struct {
	conn     *Conn
	userData any
}

// Server listens for and accepts DaemonChannel connections on an AF_UNIX
// socket (remove stale socket, listen, accept loop, clean shutdown). Unlike a single Conn, Server tracks every connection currently
// accepted, keyed by an opaque Handle, so a caller can attach per-client
// user-data and fan a message out to all of them at once.
type Server struct {
	path     string
	listener net.Listener
	stopCh   chan struct{}

	mu      sync.Mutex
	nextID  Handle
	clients map[Handle]*serverConn
}

// Listen creates the control socket at path, removing any stale file left
// behind by a prior run.
func Listen(path string) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("daemonconn: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("daemonconn: listen %s: %w", path, err)
	}
	return &Server{
		path:     path,
		listener: ln,
		stopCh:   make(chan struct{}),
		clients:  map[Handle]*serverConn{},
	}, nil
}

// Accept blocks for the next incoming connection, wraps it as a Conn, and
// registers it under a freshly allocated Handle. The caller is responsible
// for reading conn.Messages() until it closes and then calling Forget to
// drop the registry entry; until then the connection is reachable from
// WriteAll and ForEachClient.
func (s *Server) Accept() (Handle, *Conn, error) {
	nc, err := s.listener.Accept()
	if err != nil {
		select {
		case <-s.stopCh:
			return 0, nil, ErrClosed
		default:
		}
		return 0, nil, err
	}
	conn := wrap(nc)

	s.mu.Lock()
	s.nextID++
	h := s.nextID
	s.clients[h] = &serverConn{conn: conn}
	s.mu.Unlock()

	return h, conn, nil
}

// Forget removes a connection's registry entry without closing it. Callers
// invoke it once a connection's Messages channel closes.
func (s *Server) Forget(h Handle) {
	s.mu.Lock()
	delete(s.clients, h)
	s.mu.Unlock()
}

// SetUserData attaches opaque data to a connection handle, mirroring
// udscs_set_user_data. It is a no-op if the handle is not (or no longer)
// registered.
func (s *Server) SetUserData(h Handle, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.clients[h]; ok {
		sc.userData = data
	}
}

// UserData retrieves data previously attached with SetUserData, mirroring
// udscs_get_user_data.
func (s *Server) UserData(h Handle) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.clients[h]
	if !ok {
		return nil, false
	}
	return sc.userData, true
}

// WriteAll queues msg for delivery to every currently registered client,
// mirroring udscs_server_write_all. It returns the first send error
// encountered, if any, after attempting delivery to every client.
func (s *Server) WriteAll(msgType wire.MessageType, arg1, arg2 uint32, payload []byte) error {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.clients))
	for _, sc := range s.clients {
		conns = append(conns, sc.conn)
	}
	s.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.Send(msgType, arg1, arg2, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ForEachClient calls fn once for every registered client, mirroring
// udscs_server_for_all_clients. The client list is snapshotted before fn is
// called for any of them, so fn may freely Close its Conn or otherwise
// cause it to be Forgotten without disturbing the iteration.
func (s *Server) ForEachClient(fn func(h Handle, conn *Conn)) {
	type entry struct {
		h Handle
		c *Conn
	}
	s.mu.Lock()
	entries := make([]entry, 0, len(s.clients))
	for h, sc := range s.clients {
		entries = append(entries, entry{h, sc.conn})
	}
	s.mu.Unlock()

	for _, e := range entries {
		fn(e.h, e.c)
	}
}

// Close stops accepting new connections, closes every registered client
// connection, and removes the socket file.
func (s *Server) Close() error {
	close(s.stopCh)
	err := s.listener.Close()

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.clients))
	for _, sc := range s.clients {
		conns = append(conns, sc.conn)
	}
	s.clients = map[Handle]*serverConn{}
	s.mu.Unlock()
	for _, c := range conns {
		closeWithLog("daemonconn: client", c)
	}

	removeWithLog(s.path)
	return err
}
