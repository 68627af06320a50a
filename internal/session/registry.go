// Package session tracks live connections, the users bound to them, room
// membership and the roster pushed to every connection.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"casper-chat/internal/apperrors"
	"casper-chat/internal/database"
	"casper-chat/internal/models"
	"casper-chat/internal/observability"
	"casper-chat/pkg/logger"
)

// Conn is a transport handle. Send must not block.
type Conn interface {
	ID() string
	RemoteIP() string
	Send(event models.OutboundEvent) bool
	Close()
}

type userSession struct {
	username string
	ip       string
}

// Registry is the in-memory map of live connections to identities. Every
// mutation, including the roster push that follows it, happens under mu.
type Registry struct {
	users database.UserRepository

	mu       sync.RWMutex
	bindings map[Conn]*userSession
	sessions map[string]map[Conn]struct{} // lowercased username -> conns
	admins   map[Conn]struct{}
	rooms    map[string]map[string]struct{} // room -> lowercased usernames
	blocked  map[string]struct{}            // lowercased usernames
	stopped  bool

	presence *presenceWriter
}

func NewRegistry(users database.UserRepository) *Registry {
	return &Registry{
		users:    users,
		bindings: make(map[Conn]*userSession),
		sessions: make(map[string]map[Conn]struct{}),
		admins:   make(map[Conn]struct{}),
		rooms:    make(map[string]map[string]struct{}),
		blocked:  make(map[string]struct{}),
		presence: newPresenceWriter(users),
	}
}

// Start launches the presence writer.
func (r *Registry) Start() {
	r.presence.start()
	logger.Info("Session registry started")
}

// Stop marks every bound user offline, closes all connections and waits for
// queued presence writes to reach the store.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	conns := make([]Conn, 0, len(r.bindings)+len(r.admins))
	for conn := range r.bindings {
		conns = append(conns, conn)
	}
	for conn := range r.admins {
		conns = append(conns, conn)
	}
	for key, set := range r.sessions {
		for conn := range set {
			r.presence.enqueue(presenceUpdate{username: r.bindings[conn].username, status: models.StatusOffline})
			break
		}
		delete(r.sessions, key)
	}
	r.bindings = make(map[Conn]*userSession)
	r.admins = make(map[Conn]struct{})
	r.rooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	err := r.presence.stop(ctx)
	logger.Info("Session registry stopped, closed %d connections", len(conns))
	return err
}

// Join binds conn to username. Any earlier binding of conn is replaced.
func (r *Registry) Join(ctx context.Context, conn Conn, username string) error {
	user, err := r.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user %s", username)
		}
		return apperrors.Store("get user", err)
	}
	if user.Blocked {
		return apperrors.Forbidden("account is blocked")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return apperrors.Forbidden("server is shutting down")
	}
	if _, isAdmin := r.admins[conn]; isAdmin {
		return apperrors.Forbidden("admin connections cannot join as a user")
	}
	key := strings.ToLower(user.Username)
	if _, ok := r.blocked[key]; ok {
		return apperrors.Forbidden("account is blocked")
	}

	r.unbindLocked(conn)

	ip := conn.RemoteIP()
	r.bindings[conn] = &userSession{username: user.Username, ip: ip}
	if r.sessions[key] == nil {
		r.sessions[key] = make(map[Conn]struct{})
	}
	r.sessions[key][conn] = struct{}{}
	r.presence.enqueue(presenceUpdate{username: user.Username, status: models.StatusOnline, ip: ip})

	logger.Info("User %s joined (conn %s, %d sessions)", user.Username, conn.ID(), len(r.sessions[key]))
	r.publishRosterLocked()
	return nil
}

// JoinAdmin registers an admin-role connection. Admins are not part of the
// roster but receive it along with broadcasts and feedback notifications.
func (r *Registry) JoinAdmin(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unbindLocked(conn)
	r.admins[conn] = struct{}{}
	conn.Send(r.rosterEventLocked())
	logger.Info("Admin connected (conn %s)", conn.ID())
}

// Leave removes conn. It returns the username that was bound, if any.
func (r *Registry) Leave(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[conn]; ok {
		delete(r.admins, conn)
		logger.Info("Admin disconnected (conn %s)", conn.ID())
		return "", false
	}

	username, ok := r.unbindLocked(conn)
	if !ok {
		return "", false
	}
	logger.Info("User %s left (conn %s)", username, conn.ID())
	r.publishRosterLocked()
	return username, true
}

// unbindLocked removes a user binding and, for a user's last session, queues
// the offline write and drops their room memberships.
func (r *Registry) unbindLocked(conn Conn) (string, bool) {
	s, ok := r.bindings[conn]
	if !ok {
		return "", false
	}
	delete(r.bindings, conn)

	key := strings.ToLower(s.username)
	delete(r.sessions[key], conn)
	if len(r.sessions[key]) == 0 {
		delete(r.sessions, key)
		for room, members := range r.rooms {
			delete(members, key)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
		r.presence.enqueue(presenceUpdate{username: s.username, status: models.StatusOffline})
	}
	return s.username, true
}

// JoinRoom adds the user bound to conn to room. Membership belongs to the
// user, not the connection, and joining twice is a no-op.
func (r *Registry) JoinRoom(conn Conn, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.bindings[conn]
	if !ok {
		return apperrors.Auth("join before entering a room")
	}
	if room != models.GlobalRoom {
		if _, _, ok := ParseRoomKey(room); !ok {
			return apperrors.Validation("invalid room %q", room)
		}
		if !IsParticipant(room, s.username) {
			return apperrors.Forbidden("not a participant of room %s", room)
		}
	}

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][strings.ToLower(s.username)] = struct{}{}
	return nil
}

// InRoom reports whether username has joined room.
func (r *Registry) InRoom(username, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][strings.ToLower(username)]
	return ok
}

func (r *Registry) Roster() []models.RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

func (r *Registry) rosterLocked() []models.RosterEntry {
	roster := make([]models.RosterEntry, 0, len(r.sessions))
	for _, set := range r.sessions {
		var entry models.RosterEntry
		for conn := range set {
			s := r.bindings[conn]
			entry.Username = s.username
			if entry.IP == "" {
				entry.IP = s.ip
			}
		}
		entry.Status = models.StatusOnline
		roster = append(roster, entry)
	}
	sort.Slice(roster, func(i, j int) bool {
		return strings.ToLower(roster[i].Username) < strings.ToLower(roster[j].Username)
	})
	return roster
}

func (r *Registry) rosterEventLocked() models.OutboundEvent {
	roster := r.rosterLocked()
	return models.NewEvent(models.EventUserList, models.UserListPayload{Users: roster, Count: len(roster)})
}

func (r *Registry) publishRosterLocked() {
	event := r.rosterEventLocked()
	for conn := range r.bindings {
		deliver(conn, event)
	}
	for conn := range r.admins {
		deliver(conn, event)
	}
}

func deliver(conn Conn, event models.OutboundEvent) bool {
	if conn.Send(event) {
		return true
	}
	observability.IncWSDropped()
	logger.Warn("Dropped %s event for conn %s", event.Type, conn.ID())
	return false
}

// SendAll delivers event to every live connection, admins included.
func (r *Registry) SendAll(event models.OutboundEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for conn := range r.bindings {
		if deliver(conn, event) {
			sent++
		}
	}
	for conn := range r.admins {
		if deliver(conn, event) {
			sent++
		}
	}
	return sent
}

// SendRoom delivers event to every connection of every user joined to room.
func (r *Registry) SendRoom(room string, event models.OutboundEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for member := range r.rooms[room] {
		for conn := range r.sessions[member] {
			if deliver(conn, event) {
				sent++
			}
		}
	}
	return sent
}

// SendUser delivers event to all of username's sessions.
func (r *Registry) SendUser(username string, event models.OutboundEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for conn := range r.sessions[strings.ToLower(username)] {
		if deliver(conn, event) {
			sent++
		}
	}
	return sent
}

func (r *Registry) SendAdmins(event models.OutboundEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for conn := range r.admins {
		if deliver(conn, event) {
			sent++
		}
	}
	return sent
}

func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[strings.ToLower(username)]) > 0
}

// Username returns the user bound to conn.
func (r *Registry) Username(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bindings[conn]
	if !ok {
		return "", false
	}
	return s.username, true
}

func (r *Registry) IsAdmin(conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[conn]
	return ok
}

// Block refuses further joins by username until Unblock, then unbinds and
// closes every live session. It returns the number of connections closed.
func (r *Registry) Block(username string) int {
	key := strings.ToLower(username)
	r.mu.Lock()
	r.blocked[key] = struct{}{}
	var conns []Conn
	for conn := range r.sessions[key] {
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		r.unbindLocked(conn)
	}
	if len(conns) > 0 {
		r.publishRosterLocked()
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Send(models.ErrorEvent("your account has been blocked"))
		conn.Close()
	}
	if len(conns) > 0 {
		logger.Info("Disconnected %d sessions of %s", len(conns), username)
	}
	return len(conns)
}

// Unblock lets username join again.
func (r *Registry) Unblock(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blocked, strings.ToLower(username))
}

// Counts returns the number of bound user connections and admin connections.
func (r *Registry) Counts() (users, admins int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings), len(r.admins)
}
