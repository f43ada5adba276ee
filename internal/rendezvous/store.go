// ABOUTME: Presence and room directory stores for the rendezvous
// ABOUTME: In-memory implementations for single-node use and tests
package rendezvous

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrRoomNotFound is returned by a Directory lookup miss
var ErrRoomNotFound = errors.New("room not found")

// RoomMeta is the configured metadata of a room
type RoomMeta struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	SongID          string `json:"songId,omitempty"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
}

// Directory resolves room ids to metadata. Rooms live in the directory
// independently of who is connected.
type Directory interface {
	Lookup(ctx context.Context, roomID string) (RoomMeta, error)
	Put(ctx context.Context, meta RoomMeta) error
}

// Presence tracks which participants are connected to which room
type Presence interface {
	Add(ctx context.Context, roomID, participantID string) error
	Remove(ctx context.Context, roomID, participantID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
}

// MemoryDirectory is a process-local Directory
type MemoryDirectory struct {
	mu    sync.RWMutex
	rooms map[string]RoomMeta
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{rooms: make(map[string]RoomMeta)}
}

func (d *MemoryDirectory) Lookup(ctx context.Context, roomID string) (RoomMeta, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	meta, ok := d.rooms[roomID]
	if !ok {
		return RoomMeta{}, ErrRoomNotFound
	}
	return meta, nil
}

func (d *MemoryDirectory) Put(ctx context.Context, meta RoomMeta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[meta.ID] = meta
	return nil
}

// MemoryPresence is a process-local Presence
type MemoryPresence struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[string]map[string]struct{})}
}

func (p *MemoryPresence) Add(ctx context.Context, roomID, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[roomID] == nil {
		p.rooms[roomID] = make(map[string]struct{})
	}
	p.rooms[roomID][participantID] = struct{}{}
	return nil
}

func (p *MemoryPresence) Remove(ctx context.Context, roomID, participantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms[roomID], participantID)
	if len(p.rooms[roomID]) == 0 {
		delete(p.rooms, roomID)
	}
	return nil
}

func (p *MemoryPresence) Members(ctx context.Context, roomID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	members := make([]string, 0, len(p.rooms[roomID]))
	for id := range p.rooms[roomID] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}
