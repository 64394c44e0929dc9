// Package p2pserver accepts inbound TCP connections, reframes length-prefixed
// messages, and dispatches them upward through a caller-supplied callback.
// Grounded on original_source/src/libNetwork/P2PServer.cpp.
package p2pserver

import (
	"bufio"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shardnode/shardnode/internal/blacklist"
	"github.com/shardnode/shardnode/internal/wire"
	"github.com/shardnode/shardnode/pkg/types"
)

const (
	// thresholdSize is the read-buffer size past which the connection's
	// buffer is shrunk back down, mirroring the original's buffer reuse
	// policy (SPEC_FULL §4.5).
	thresholdSize = 100 * 1024
	reserveSize   = 1024
)

// Callback is invoked for every reassembled inbound frame. Returning false
// tells the server to close the connection.
type Callback func(from types.Peer, frame types.RawFrame) bool

// Server accepts connections on one TCP port.
type Server struct {
	listener      net.Listener
	maxMsgSize    uint32
	callback      Callback
	bl            *blacklist.Blacklist
	log           *zap.SugaredLogger

	mu          sync.Mutex
	connections map[string]net.Conn

	wg sync.WaitGroup
}

// CreateAndStart binds 0.0.0.0:port and begins accepting connections in a
// background goroutine. maxMessageSize bounds inbound body_length (distinct
// defaults for NORMAL/BROADCAST vs GOSSIP servers are the caller's
// responsibility — P2P starts up to two Server instances, SPEC_FULL §4.6).
func CreateAndStart(port int, maxMessageSize uint32, bl *blacklist.Blacklist, callback Callback, log *zap.SugaredLogger) (*Server, error) {
	if callback == nil {
		return nil, errors.New("p2pserver: callback must not be nil")
	}
	if maxMessageSize == 0 {
		return nil, errors.New("p2pserver: maxMessageSize must be positive")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ln, err := net.Listen("tcp", netAddr(port))
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    ln,
		maxMsgSize:  maxMessageSize,
		callback:    callback,
		bl:          bl,
		log:         log.Named("p2pserver"),
		connections: make(map[string]net.Conn),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func netAddr(port int) string {
	return "0.0.0.0:" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Addr returns the bound listener address, useful in tests that bind to
// port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting and closes every tracked connection.
func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debugw("accept error", "err", err)
			return
		}
		id := uuid.New().String()

		s.mu.Lock()
		s.connections[id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(id, conn)
	}
}

func (s *Server) handleConnection(id string, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.connections, id)
		s.mu.Unlock()
	}()

	peer := peerFromConn(conn)
	if s.bl != nil && s.bl.Exist(peer, true) {
		s.log.Debugw("dropping connection from blacklisted peer", "peer", peer.String())
		return
	}

	r := bufio.NewReaderSize(conn, reserveSize)
	var growBuf []byte

	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(r, header); err != nil {
			if err != io.EOF {
				s.log.Debugw("header read error", "peer", peer.String(), "err", err)
			}
			return
		}

		bodyLen, startByte, hasHash, malformed := parseHeader(header, s.maxMsgSize)
		if malformed {
			if s.bl != nil {
				s.bl.Add(peer, types.Strict)
			}
			return
		}

		need := int(bodyLen)
		if hasHash {
			need += 32
		}
		if cap(growBuf) < need {
			growBuf = make([]byte, need)
		} else if len(growBuf) > thresholdSize && need <= reserveSize {
			growBuf = make([]byte, need)
		}
		buf := growBuf[:need]
		if _, err := io.ReadFull(r, buf); err != nil {
			s.log.Debugw("body read error", "peer", peer.String(), "err", err)
			return
		}

		frame := types.RawFrame{StartByte: types.StartByte(startByte)}
		bodyStart := 0
		if hasHash {
			copy(frame.BroadcastHash[:], buf[:32])
			frame.HasHash = true
			bodyStart = 32
		}
		body := buf[bodyStart:]

		if hasHash {
			computed := wire.HashBody(body)
			if computed != frame.BroadcastHash {
				if s.bl != nil {
					s.bl.Add(peer, types.Strict)
				}
				return
			}
		}
		frame.Message = append([]byte(nil), body...)

		if !s.callback(peer, frame) {
			return
		}
	}
}

// parseHeader validates and extracts the 8-byte header fields. malformed is
// true on version mismatch, unknown start byte, or oversized body.
func parseHeader(header []byte, maxMsgSize uint32) (bodyLen uint32, startByte byte, hasHash bool, malformed bool) {
	version := header[0]
	startByte = header[1]
	bodyLen = uint32(header[2])<<24 | uint32(header[3])<<16 | uint32(header[4])<<8 | uint32(header[5])

	if version != 1 {
		return 0, 0, false, true
	}
	switch types.StartByte(startByte) {
	case types.StartByteNormal:
	case types.StartByteBroadcast:
		hasHash = true
	case types.StartByteGossip:
	default:
		return 0, 0, false, true
	}
	if bodyLen > maxMsgSize {
		return 0, 0, false, true
	}
	return bodyLen, startByte, hasHash, false
}

func peerFromConn(conn net.Conn) types.Peer {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return types.Peer{}
	}
	ip := new(big.Int)
	if v4 := addr.IP.To4(); v4 != nil {
		ip.SetBytes(v4)
	} else {
		ip.SetBytes(addr.IP.To16())
	}
	return types.Peer{IP: ip, Port: uint16(addr.Port)}
}
