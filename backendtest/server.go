// Package backendtest provides an in-process walkingbuddy backend (HTTP API plus websocket push channel) for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tcriess/walkingbuddy/types"
)

// Route names accepted by Fail / Hits.
const (
	RouteList     = "list"
	RouteCreate   = "create"
	RouteJoin     = "join"
	RouteLeave    = "leave"
	RouteDelete   = "delete"
	RouteVerify   = "verify"
	RouteLogout   = "logout"
	RouteUsers    = "users"
	RouteUser     = "user"
	RouteMessages = "messages"
	RouteSend     = "send"
	RoutePush     = "push"
)

type failure struct {
	status int
	detail string
}

type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu          sync.Mutex
	rooms       []types.Record
	users       map[string]types.Record
	messages    map[string][]types.Record
	session     types.Record
	failures    map[string]failure
	hits        map[string]int
	clients     map[*websocket.Conn]struct{}
	connections int
	nextId      int
}

func New() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		users:    make(map[string]types.Record),
		messages: make(map[string][]types.Record),
		failures: make(map[string]failure),
		hits:     make(map[string]int),
		clients:  make(map[*websocket.Conn]struct{}),
		nextId:   1,
	}
	router := mux.NewRouter()
	router.HandleFunc("/api/rooms/list", s.route(RouteList, s.handleList)).Methods(http.MethodGet)
	router.HandleFunc("/api/rooms/create", s.route(RouteCreate, s.handleCreate)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/join", s.route(RouteJoin, s.handleJoin)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/leave", s.route(RouteLeave, s.handleLeave)).Methods(http.MethodPost)
	router.HandleFunc("/api/rooms/{id}", s.route(RouteDelete, s.handleDelete)).Methods(http.MethodDelete)
	router.HandleFunc("/auth/verify", s.route(RouteVerify, s.handleVerify)).Methods(http.MethodGet)
	router.HandleFunc("/auth/logout", s.route(RouteLogout, s.handleLogout)).Methods(http.MethodPost)
	router.HandleFunc("/api/users", s.route(RouteUsers, s.handleUsers)).Methods(http.MethodGet)
	router.HandleFunc("/api/users/{id}", s.route(RouteUser, s.handleUser)).Methods(http.MethodGet)
	router.HandleFunc("/api/chat/{room}/messages", s.route(RouteMessages, s.handleMessages)).Methods(http.MethodGet)
	router.HandleFunc("/api/chat/send", s.route(RouteSend, s.handleSend)).Methods(http.MethodPost)
	router.HandleFunc("/ws/rooms", s.route(RoutePush, s.handlePush)).Methods(http.MethodGet)
	s.Server = httptest.NewServer(router)
	return s
}

// Close drops all push connections and shuts the server down.
func (s *Server) Close() {
	s.DropClients()
	s.Server.Close()
}

// Fail makes every request to route answer status with a {"detail": detail} body until Recover is called.
func (s *Server) Fail(route string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, detail: detail}
}

func (s *Server) Recover(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, route)
}

// Hits returns the number of requests received for route (including failed ones).
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// AddRoom stores room as is (no normalization) and returns it.
func (s *Server) AddRoom(room types.Record) types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
	return room
}

func (s *Server) Rooms() []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Record(nil), s.rooms...)
}

func (s *Server) AddUser(user types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[fmt.Sprint(user["id"])] = user
}

// SetSession sets the user returned by /auth/verify; nil means unauthenticated.
func (s *Server) SetSession(user types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = user
}

func (s *Server) Messages(roomId string) []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Record(nil), s.messages[roomId]...)
}

// Push sends msg as JSON to every connected push client.
func (s *Server) Push(msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.PushRaw(string(raw))
}

// PushRaw sends a text frame as is.
func (s *Server) PushRaw(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return err
		}
	}
	return nil
}

// Clients returns the number of currently connected push clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Connections returns the number of push connections accepted so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// WaitForClients polls until n push clients are connected or timeout passes.
func (s *Server) WaitForClients(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Clients() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// DropClients closes every push connection.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
}

func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[name]++
		f, failing := s.failures[name]
		s.mu.Unlock()
		if failing {
			writeJSON(w, f.status, map[string]interface{}{"detail": f.detail})
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request) types.Record {
	m := make(map[string]interface{})
	_ = json.NewDecoder(r.Body).Decode(&m)
	return types.Record(m)
}

// findRoom returns the index of the room with the given id; s.mu must be held.
func (s *Server) findRoom(id string) int {
	for i, room := range s.rooms {
		if fmt.Sprint(room["room_id"]) == id {
			return i
		}
	}
	return -1
}

func members(room types.Record) []interface{} {
	m, _ := room["members"].([]interface{})
	return m
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rooms := append([]types.Record(nil), s.rooms...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "rooms": rooms})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req := readJSON(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	room := req.Clone()
	room["room_id"] = strconv.Itoa(s.nextId)
	s.nextId++
	// the creator becomes a member by joining
	if userId, ok := req["user_id"]; ok {
		room["creator_id"] = userId
	}
	room["members"] = []interface{}{}
	room["status"] = "active"
	s.rooms = append(s.rooms, room)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "room": room, "message": "created"})
}

// SetNextId makes the next created room get id.
func (s *Server) SetNextId(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId = id
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	req := readJSON(r)
	roomId := fmt.Sprint(req["room_id"])
	userId := req["user_id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findRoom(roomId)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"detail": "Room " + roomId + " not found"})
		return
	}
	room := s.rooms[i].Clone()
	m := members(room)
	for _, member := range m {
		if member == userId {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"detail": fmt.Sprintf("User %v already in room", userId)})
			return
		}
	}
	room["members"] = append(append([]interface{}(nil), m...), userId)
	s.rooms[i] = room
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "room": room})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	req := readJSON(r)
	roomId := fmt.Sprint(req["room_id"])
	userId := req["user_id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findRoom(roomId)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"detail": "Room " + roomId + " not found"})
		return
	}
	room := s.rooms[i].Clone()
	kept := make([]interface{}, 0)
	for _, member := range members(room) {
		if member != userId {
			kept = append(kept, member)
		}
	}
	room["members"] = kept
	if len(kept) == 0 {
		room["status"] = "complete"
	}
	s.rooms[i] = room
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "room": room})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findRoom(id)
	if i < 0 {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("room not found"))
		return
	}
	s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	user := s.session
	s.mu.Unlock()
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"detail": "Not authenticated"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.SetSession(nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("ids"), ",")
	s.mu.Lock()
	users := make([]types.Record, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	u, ok := s.users[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"detail": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": u})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	s.mu.Lock()
	msgs := append([]types.Record(nil), s.messages[roomId]...)
	s.mu.Unlock()
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "room_id": roomId, "messages": msgs})
}

// handleSend only accepts messages from room members (403 otherwise).
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req := readJSON(r)
	roomId := fmt.Sprint(req["room_id"])
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findRoom(roomId)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"detail": "Room " + roomId + " not found"})
		return
	}
	member := false
	for _, m := range members(s.rooms[i]) {
		if m == req["user_id"] {
			member = true
		}
	}
	if !member {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"detail": "not a member"})
		return
	}
	msg := types.Record{
		"user_id":   req["user_id"],
		"message":   req["content"],
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.999999"),
	}
	s.messages[roomId] = append(s.messages[roomId], msg)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.connections++
	s.mu.Unlock()
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
