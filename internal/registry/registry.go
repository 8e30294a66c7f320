// Package registry tracks which live connections are joined to which rooms.
// It holds no authorization logic: a join the caller asks for always succeeds.
package registry

import (
	"sort"
	"sync"

	"classchat/internal/metrics"
	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Registry is the owned room membership table
// ARCHITECTURAL DISCOVERY: Each room is a shard with its own lock so joins and
// fan-out snapshots of different rooms never contend; the top-level lock only
// guards creation and removal of shards
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	// Connection and user indexes, independent of any room
	idxMu sync.RWMutex
	conns map[string]*entry            // connID -> entry
	users map[string]map[string]*entry // userID -> connID -> entry

	metrics *metrics.Metrics
}

type room struct {
	mu      sync.RWMutex
	members map[string]interfaces.Connection // connID -> Connection
	closed  bool                             // set when the last member left
}

type entry struct {
	conn  interfaces.Connection
	user  string
	rooms map[string]struct{}
}

// Stats is a point-in-time view for health and monitoring.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Memberships int `json:"memberships"`
}

// New creates an empty registry. m may be nil.
func New(m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]*room),
		conns:   make(map[string]*entry),
		users:   make(map[string]map[string]*entry),
		metrics: m,
	}
}

// Register indexes an authenticated connection under its user id so that
// UserMembers can reach it. A user may hold several connections.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	identity, ok := conn.Identity()
	if !ok {
		return ErrNotAuthenticated
	}

	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	if _, exists := r.conns[conn.ID()]; exists {
		return nil
	}
	e := &entry{conn: conn, user: identity.ID, rooms: make(map[string]struct{})}
	r.conns[conn.ID()] = e
	if r.users[identity.ID] == nil {
		r.users[identity.ID] = make(map[string]*entry)
	}
	r.users[identity.ID][conn.ID()] = e
	return nil
}

// Unregister drops a connection from every room and index and returns the
// rooms it was removed from. Idempotent.
func (r *Registry) Unregister(conn interfaces.Connection) []string {
	if conn == nil {
		return nil
	}
	left := make([]string, 0)
	for _, roomID := range r.Rooms(conn) {
		if r.Leave(roomID, conn) {
			left = append(left, roomID)
		}
	}

	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	if e, exists := r.conns[conn.ID()]; exists && e.conn == conn {
		delete(r.conns, conn.ID())
		if byUser := r.users[e.user]; byUser != nil {
			delete(byUser, conn.ID())
			if len(byUser) == 0 {
				delete(r.users, e.user)
			}
		}
	}
	return left
}

// Join adds conn to roomID, creating the room on first join. It reports
// whether the connection was newly added.
func (r *Registry) Join(roomID string, conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}
	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last Leave; the shard is being removed
			rm.mu.Unlock()
			continue
		}
		_, exists := rm.members[conn.ID()]
		rm.members[conn.ID()] = conn
		rm.mu.Unlock()

		if !exists {
			r.track(conn, roomID, true)
		}
		return !exists
	}
}

// Leave removes conn from roomID and deletes the room when it becomes
// empty. It reports whether the connection was a member.
func (r *Registry) Leave(roomID string, conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	if _, exists := rm.members[conn.ID()]; !exists {
		rm.mu.Unlock()
		return false
	}
	delete(rm.members, conn.ID())
	empty := len(rm.members) == 0
	if empty {
		rm.closed = true
	}
	rm.mu.Unlock()

	r.track(conn, roomID, false)

	if empty {
		r.mu.Lock()
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
		n := len(r.rooms)
		r.mu.Unlock()
		r.metrics.SetRooms(n)
	}
	return true
}

// IsMember reports whether conn is currently joined to roomID.
func (r *Registry) IsMember(roomID string, conn interfaces.Connection) bool {
	rm := r.get(roomID)
	if rm == nil || conn == nil {
		return false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, exists := rm.members[conn.ID()]
	return exists
}

// Members returns a snapshot of the connections joined to roomID, ordered by
// connection id.
func (r *Registry) Members(roomID string) []interfaces.Connection {
	rm := r.get(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	members := make([]interfaces.Connection, 0, len(rm.members))
	for _, conn := range rm.members {
		members = append(members, conn)
	}
	rm.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ID() < members[j].ID() })
	return members
}

// Occupants returns the distinct identities present in roomID, sorted by
// user id. A user with several connections in the room appears once.
func (r *Registry) Occupants(roomID string) []types.Identity {
	seen := make(map[string]bool)
	occupants := make([]types.Identity, 0)
	for _, conn := range r.Members(roomID) {
		identity, ok := conn.Identity()
		if !ok || seen[identity.ID] {
			continue
		}
		seen[identity.ID] = true
		occupants = append(occupants, identity)
	}
	sort.Slice(occupants, func(i, j int) bool { return occupants[i].ID < occupants[j].ID })
	return occupants
}

// HasUser reports whether any connection of userID is joined to roomID.
func (r *Registry) HasUser(roomID, userID string) bool {
	for _, conn := range r.Members(roomID) {
		if identity, ok := conn.Identity(); ok && identity.ID == userID {
			return true
		}
	}
	return false
}

// UserMembers returns every registered connection of userID regardless of room.
func (r *Registry) UserMembers(userID string) []interfaces.Connection {
	r.idxMu.RLock()
	byUser := r.users[userID]
	conns := make([]interfaces.Connection, 0, len(byUser))
	for _, e := range byUser {
		conns = append(conns, e.conn)
	}
	r.idxMu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// Connections returns every connection known to the registry, ordered by id.
func (r *Registry) Connections() []interfaces.Connection {
	r.idxMu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.conns))
	for _, e := range r.conns {
		conns = append(conns, e.conn)
	}
	r.idxMu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// Rooms lists the rooms conn is joined to, sorted.
func (r *Registry) Rooms(conn interfaces.Connection) []string {
	if conn == nil {
		return nil
	}
	r.idxMu.RLock()
	e := r.conns[conn.ID()]
	rooms := make([]string, 0)
	if e != nil {
		for roomID := range e.rooms {
			rooms = append(rooms, roomID)
		}
	}
	r.idxMu.RUnlock()

	sort.Strings(rooms)
	return rooms
}

// Stats returns registry counters without exposing internal structure.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	shards := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		shards = append(shards, rm)
	}
	r.mu.RUnlock()

	stats := Stats{Rooms: len(shards)}
	for _, rm := range shards {
		rm.mu.RLock()
		stats.Memberships += len(rm.members)
		rm.mu.RUnlock()
	}

	r.idxMu.RLock()
	stats.Connections = len(r.conns)
	stats.Users = len(r.users)
	r.idxMu.RUnlock()
	return stats
}

func (r *Registry) get(roomID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

func (r *Registry) getOrCreate(roomID string) *room {
	if rm := r.get(roomID); rm != nil {
		return rm
	}

	r.mu.Lock()
	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &room{members: make(map[string]interfaces.Connection)}
		r.rooms[roomID] = rm
	}
	n := len(r.rooms)
	r.mu.Unlock()

	if !exists {
		r.metrics.SetRooms(n)
	}
	return rm
}

// track keeps the per-connection room index in step with room shards.
// Connections joined without Register are indexed on first join.
func (r *Registry) track(conn interfaces.Connection, roomID string, joined bool) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	e := r.conns[conn.ID()]
	if e == nil {
		if !joined {
			return
		}
		identity, _ := conn.Identity()
		e = &entry{conn: conn, user: identity.ID, rooms: make(map[string]struct{})}
		r.conns[conn.ID()] = e
		if identity.ID != "" {
			if r.users[identity.ID] == nil {
				r.users[identity.ID] = make(map[string]*entry)
			}
			r.users[identity.ID][conn.ID()] = e
		}
	}
	if joined {
		e.rooms[roomID] = struct{}{}
	} else {
		delete(e.rooms, roomID)
	}
}
