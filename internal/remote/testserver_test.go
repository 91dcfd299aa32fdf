package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer is an in-process store speaking the client's WebSocket protocol:
// auth handshake, get/set/update/watch requests, result frames correlated by
// id, and change events pushed to watching connections.
type testServer struct {
	httpServer *httptest.Server
	token      string

	mu        sync.Mutex
	values    map[string]json.RawMessage
	failPaths map[string]bool
	conns     []*serverConn
}

type serverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	watched []string
}

// clientFrame is the decoded shape of every request a client can send.
type clientFrame struct {
	ID     int                        `json:"id"`
	Type   string                     `json:"type"`
	Path   string                     `json:"path"`
	Value  json.RawMessage            `json:"value"`
	Fields map[string]json.RawMessage `json:"fields"`
}

func newTestServer(token string) *testServer {
	s := &testServer{
		token:     token,
		values:    make(map[string]json.RawMessage),
		failPaths: make(map[string]bool),
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	return s
}

// url returns the ws:// address clients should dial.
func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

func (s *testServer) close() {
	s.dropConnections()
	s.httpServer.Close()
}

// dropConnections severs every live connection, as a network outage would.
func (s *testServer) dropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, sc := range conns {
		sc.conn.Close()
	}
}

// failWritesAt makes set and update at path answer with an error result.
func (s *testServer) failWritesAt(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPaths[path] = true
}

func (s *testServer) seed(path string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[path] = raw
}

func (s *testServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{conn: conn}

	defer func() {
		s.mu.Lock()
		for i, existing := range s.conns {
			if existing == sc {
				s.conns = append(s.conns[:i], s.conns[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		conn.Close()
	}()

	if !s.authenticate(sc) {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, sc)
	s.mu.Unlock()

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		s.handleFrame(sc, &frame)
	}
}

func (s *testServer) authenticate(sc *serverConn) bool {
	sc.writeJSON(Message{Type: msgAuthRequired})

	var auth authMessage
	if err := sc.conn.ReadJSON(&auth); err != nil {
		return false
	}
	if auth.Type != msgAuth || auth.Token != s.token {
		sc.writeJSON(Message{Type: msgAuthInvalid})
		return false
	}
	sc.writeJSON(Message{Type: msgAuthOk})
	return true
}

func (s *testServer) handleFrame(sc *serverConn, frame *clientFrame) {
	switch frame.Type {
	case msgGet:
		s.mu.Lock()
		value := s.values[frame.Path]
		s.mu.Unlock()
		sc.writeResult(frame.ID, true, value, nil)

	case msgSet:
		if s.writeFails(frame.Path) {
			sc.writeResult(frame.ID, false, nil, &Error{Code: "write_failed", Message: "injected failure"})
			return
		}
		s.mu.Lock()
		s.values[frame.Path] = frame.Value
		s.mu.Unlock()
		sc.writeResult(frame.ID, true, nil, nil)
		s.broadcast(frame.Path, frame.Value)

	case msgUpdate:
		if s.writeFails(frame.Path) {
			sc.writeResult(frame.ID, false, nil, &Error{Code: "write_failed", Message: "injected failure"})
			return
		}
		merged, err := s.merge(frame.Path, frame.Fields)
		if err != nil {
			sc.writeResult(frame.ID, false, nil, &Error{Code: "not_an_object", Message: err.Error()})
			return
		}
		sc.writeResult(frame.ID, true, nil, nil)
		s.broadcast(frame.Path, merged)

	case msgWatch:
		sc.mu.Lock()
		sc.watched = append(sc.watched, frame.Path)
		sc.mu.Unlock()
		sc.writeResult(frame.ID, true, nil, nil)

	default:
		sc.writeResult(frame.ID, false, nil, &Error{Code: "unknown_type", Message: frame.Type})
	}
}

func (s *testServer) writeFails(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failPaths[path]
}

func (s *testServer) merge(path string, fields map[string]json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]json.RawMessage)
	if existing, ok := s.values[path]; ok {
		if err := json.Unmarshal(existing, &current); err != nil {
			return nil, err
		}
	}
	for field, value := range fields {
		current[field] = value
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	s.values[path] = raw
	return raw, nil
}

// broadcast pushes an event frame to every connection watching a covering
// path.
func (s *testServer) broadcast(path string, value json.RawMessage) {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()

	for _, sc := range conns {
		sc.mu.Lock()
		covered := false
		for _, watched := range sc.watched {
			if pathCovers(watched, path) {
				covered = true
				break
			}
		}
		sc.mu.Unlock()
		if covered {
			sc.writeJSON(Message{Type: msgEvent, Path: path, Value: value})
		}
	}
}

func (sc *serverConn) writeJSON(v any) {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	sc.conn.WriteJSON(v)
}

func (sc *serverConn) writeResult(id int, success bool, value json.RawMessage, e *Error) {
	sc.writeJSON(Message{ID: id, Type: msgResult, Success: &success, Value: value, Error: e})
}
