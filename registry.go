package main

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

const maxRooms = 100

// ErrRoomFull reports that the chosen room filled up before admission
var ErrRoomFull = errors.New("room is full")

// ErrServerFull reports that no new room can be created
var ErrServerFull = errors.New("too many active rooms")

// RoomManager owns the room directory. Rooms are created on demand,
// torn down when they empty, and only reachable through Join/Get/
// RemovePlayer, never mutated from outside.
type RoomManager struct {
	mu    sync.Mutex
	rooms map[string]*Room
	rec   *Recorder
}

// NewRoomManager creates an empty room directory
func NewRoomManager(rec *Recorder) *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
		rec:   rec,
	}
}

// Join places the player into the first Lobby room with free capacity,
// creating a new room when none qualifies. Admission failure on a room
// that filled concurrently is reported as ErrRoomFull.
func (rm *RoomManager) Join(name, color string, client Broadcaster) (*Room, *Player, error) {
	rm.mu.Lock()
	var room *Room
	for _, r := range rm.rooms {
		if r.State() == StateLobby && r.PlayerCount() < MaxPlayersPerRoom {
			room = r
			break
		}
	}
	if room == nil {
		if len(rm.rooms) >= maxRooms {
			rm.mu.Unlock()
			return nil, nil, ErrServerFull
		}
		room = NewRoom(uuid.NewString(), rm.rec)
		rm.rooms[room.ID] = room
	}
	rm.mu.Unlock()

	player := room.AddPlayer(name, color, client)
	if player == nil {
		return nil, nil, ErrRoomFull
	}
	return room, player, nil
}

// Get returns a room by ID, or nil
func (rm *RoomManager) Get(id string) *Room {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.rooms[id]
}

// RemovePlayer applies a disconnect. A room that empties is stopped and
// discarded; that is resource cleanup, not a lifecycle transition.
func (rm *RoomManager) RemovePlayer(roomID, playerID string) {
	rm.mu.Lock()
	room, ok := rm.rooms[roomID]
	rm.mu.Unlock()
	if !ok {
		return
	}

	room.RemovePlayer(playerID)

	if room.PlayerCount() == 0 {
		room.Stop()
		rm.mu.Lock()
		delete(rm.rooms, roomID)
		rm.mu.Unlock()
	}
}

// RoomCount returns the number of active rooms
func (rm *RoomManager) RoomCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.rooms)
}

// Shutdown stops every room and empties the directory. Called once at
// process shutdown so no timers outlive the server.
func (rm *RoomManager) Shutdown() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for id, room := range rm.rooms {
		room.Stop()
		delete(rm.rooms, id)
	}
}
