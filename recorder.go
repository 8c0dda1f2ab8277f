package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Event types written to the events table
const (
	EvtPlayerKill = "player_kill"
	EvtMatchEnd   = "match_end"
)

// MatchEntry is one player's final line in a recorded match
type MatchEntry struct {
	AuthID           int64
	Name             string
	TerritoryPercent float64
	Kills            int
	Alive            bool
	Won              bool
}

// MatchRecord is a finished match handed to the recorder
type MatchRecord struct {
	RoomID   string
	Duration int64 // ms
	Winner   string
	Entries  []MatchEntry
}

type recorderEvent struct {
	kind   string
	roomID string
	data   string
	match  *MatchRecord
	at     time.Time
}

// Recorder persists kills and match results off the game loop. Events
// are queued on a buffered channel and written by a single background
// goroutine; a full queue drops events rather than blocking a tick.
type Recorder struct {
	db     *DB
	events chan recorderEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewRecorder creates and starts the background writer. db may be nil,
// in which case every record call is a no-op.
func NewRecorder(db *DB) *Recorder {
	r := &Recorder{
		db:     db,
		events: make(chan recorderEvent, 256),
		stop:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.writer()
	return r
}

// RecordKill enqueues a kill event (non-blocking)
func (r *Recorder) RecordKill(roomID, victim, killer string) {
	data, _ := json.Marshal(map[string]string{"victim": victim, "killer": killer})
	r.enqueue(recorderEvent{
		kind:   EvtPlayerKill,
		roomID: roomID,
		data:   string(data),
		at:     time.Now().UTC(),
	})
}

// RecordMatch enqueues a finished match for persistence (non-blocking)
func (r *Recorder) RecordMatch(rec MatchRecord) {
	r.enqueue(recorderEvent{
		kind:   EvtMatchEnd,
		roomID: rec.RoomID,
		match:  &rec,
		at:     time.Now().UTC(),
	})
}

func (r *Recorder) enqueue(evt recorderEvent) {
	select {
	case <-r.stop:
		// Late producer after shutdown, drop
		return
	default:
	}
	select {
	case r.events <- evt:
	default:
		// Queue full: drop rather than stall the game loop
	}
}

// Stop drains the queue and shuts the writer down
func (r *Recorder) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Recorder) writer() {
	defer r.wg.Done()

	for {
		select {
		case evt := <-r.events:
			r.write(evt)
		case <-r.stop:
			// Drain what is queued. The channel itself stays open so a
			// producer racing the shutdown can never hit a closed send.
			for {
				select {
				case evt := <-r.events:
					r.write(evt)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(evt recorderEvent) {
	if r.db == nil {
		return
	}
	switch evt.kind {
	case EvtPlayerKill:
		if err := r.db.RecordEvent(evt.kind, evt.roomID, evt.data, evt.at); err != nil {
			log.Printf("recorder: kill event error: %v", err)
		}
	case EvtMatchEnd:
		r.writeMatch(evt.match, evt.at)
	}
}

func (r *Recorder) writeMatch(rec *MatchRecord, at time.Time) {
	matchID, err := r.db.RecordMatch(rec.RoomID, rec.Duration, rec.Winner)
	if err != nil {
		log.Printf("recorder: match insert error: %v", err)
		return
	}
	for _, e := range rec.Entries {
		if err := r.db.RecordMatchPlayer(matchID, e.AuthID, e.Name, e.TerritoryPercent, e.Kills, e.Alive); err != nil {
			log.Printf("recorder: match player insert error: %v", err)
		}
		if e.AuthID > 0 {
			if err := r.db.UpdateStatsAfterMatch(e.AuthID, e.Kills, !e.Alive, e.Won, e.TerritoryPercent); err != nil {
				log.Printf("recorder: stats update error: %v", err)
			}
		}
	}
	if err := r.db.RecordEvent(EvtMatchEnd, rec.RoomID, "", at); err != nil {
		log.Printf("recorder: match event error: %v", err)
	}
}
