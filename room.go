package main

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	TickRate          = 20 // simulation ticks per second
	TickInterval      = time.Second / TickRate
	BroadcastInterval = 50 * time.Millisecond

	MatchDuration     = 300 * time.Second
	MaxPlayersPerRoom = 20
	MinPlayersToStart = 2
	DominationPercent = 80.0
)

// Transition delays. Variables so tests can shorten them.
var (
	StartCountdown  = 3 * time.Second
	KillGraceDelay  = 2 * time.Second
	LobbyResetDelay = 10 * time.Second
)

// RoomState is the room lifecycle phase
type RoomState int

const (
	StateLobby RoomState = iota
	StatePlaying
	StateFinished
)

func (s RoomState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StateFinished:
		return "finished"
	default:
		return "lobby"
	}
}

// Broadcaster is the outbound side of a connection. The room never sees
// the socket itself.
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// Room holds one match: its players, projectiles and lifecycle state.
// All mutation happens under mu; the simulation and broadcast tickers,
// the transition timers and the connection handlers all funnel through
// it, so no two mutations of the same room ever overlap. Distinct rooms
// share nothing and run in parallel.
type Room struct {
	ID string

	mu          sync.Mutex
	state       RoomState
	players     map[string]*Player
	order       []string // join order; iteration and tie-break order
	projectiles []*Projectile
	clients     map[string]Broadcaster
	startedAt   time.Time
	lastUpdate  time.Time

	startTimer *time.Timer // lobby countdown
	graceTimer *time.Timer // post-kill end delay
	resetTimer *time.Timer // finished -> lobby delay
	loopStop   chan struct{}
	stopped    bool

	rec *Recorder // may be nil
}

// NewRoom creates an idle room. The tick/broadcast loop starts on the
// Lobby -> Playing transition.
func NewRoom(id string, rec *Recorder) *Room {
	return &Room{
		ID:      id,
		players: make(map[string]*Player),
		clients: make(map[string]Broadcaster),
		rec:     rec,
	}
}

// State returns the current lifecycle state
func (r *Room) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PlayerCount returns the number of players in the room
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// AddPlayer admits a player, seeds their starting territory and sends
// them the initial full snapshot. Returns nil when the room is full.
func (r *Room) AddPlayer(name, color string, client Broadcaster) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || len(r.players) >= MaxPlayersPerRoom {
		return nil
	}

	id := GenerateID(4)
	p := NewPlayer(id, name, color, r.findStartLocked())
	r.players[id] = p
	r.order = append(r.order, id)
	if client != nil {
		r.clients[id] = client
	}

	r.broadcastLocked(Envelope{T: MsgPlayerJoined, Data: PlayerJoinedMsg{
		Player:       p.ToState(),
		TotalPlayers: len(r.players),
	}})
	if client != nil {
		r.sendSnapshotLocked(client, MsgGameState)
	}

	// Countdown runs from the moment the start threshold is reached;
	// a later disconnect does not cancel it.
	if r.state == StateLobby && len(r.players) == MinPlayersToStart {
		r.armStartLocked()
	}
	return p
}

// BindAccount links a room player to an authenticated account for
// post-match stat recording.
func (r *Room) BindAccount(playerID string, authID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[playerID]; ok {
		p.AuthID = authID
	}
}

// RemovePlayer applies a disconnect immediately. Dropping below the
// start threshold mid-match force-ends it with no winner.
func (r *Room) RemovePlayer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.players[id]; !ok {
		return
	}
	delete(r.players, id)
	delete(r.clients, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.broadcastLocked(Envelope{T: MsgPlayerLeft, Data: PlayerLeftMsg{
		PlayerID:     id,
		TotalPlayers: len(r.players),
	}})

	if r.state == StatePlaying && len(r.players) < MinPlayersToStart {
		r.endGameLocked(nil)
	}
}

// HandleInput overwrites the player's sampled input. Dead players are
// ignored. Last write wins; nothing is queued.
func (r *Room) HandleInput(playerID string, in Input) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[playerID]; ok && p.Alive {
		p.Input = in
	}
}

// HandleShoot fires a projectile for the player, applying the rate
// limit and territory cost. Silently no-ops when either gate fails.
func (r *Room) HandleShoot(playerID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[playerID]
	if !ok || !p.CanShoot(now) {
		return
	}

	p.ConsumeTerritory(ShotCost)
	proj := NewProjectile(p)
	r.projectiles = append(r.projectiles, proj)
	p.LastShot = now

	r.broadcastLocked(Envelope{T: MsgProjectileCreated, Data: proj.ToState()})
}

// StartGame transitions Lobby -> Playing and starts the simulation and
// broadcast loop. Safe to call more than once; only the first call in
// Lobby does anything.
func (r *Room) StartGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || r.state != StateLobby || len(r.players) == 0 {
		return
	}
	r.startLocked(time.Now())

	stop := make(chan struct{})
	r.loopStop = stop
	go r.runLoop(stop)
}

// startLocked flips the state and announces the match. The caller
// decides whether a real-time loop drives the ticks; tests step
// Tick/BroadcastState directly.
func (r *Room) startLocked(now time.Time) {
	r.state = StatePlaying
	r.startedAt = now
	r.lastUpdate = now
	r.broadcastLocked(Envelope{T: MsgGameStarted, Data: GameStartedMsg{
		Duration:  MatchDuration.Milliseconds(),
		StartTime: now.UnixMilli(),
	}})
}

// runLoop drives the two independent timers: the simulation tick and
// the lower-frequency state broadcast.
func (r *Room) runLoop(stop chan struct{}) {
	tick := time.NewTicker(TickInterval)
	cast := time.NewTicker(BroadcastInterval)
	defer tick.Stop()
	defer cast.Stop()

	for {
		select {
		case now := <-tick.C:
			r.Tick(now)
		case <-cast.C:
			r.BroadcastState()
		case <-stop:
			return
		}
	}
}

// Tick runs one simulation step at the given time: sampled input and
// movement, projectile ballistics, collision resolution, then win
// arbitration. No-op outside Playing.
func (r *Room) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePlaying {
		return
	}

	dt := now.Sub(r.lastUpdate)
	if dt < 0 {
		dt = 0
	}
	r.lastUpdate = now

	if now.Sub(r.startedAt) >= MatchDuration {
		r.endGameLocked(nil)
		return
	}

	norm := dt.Seconds() / TickInterval.Seconds()
	for _, id := range r.order {
		if p := r.players[id]; p.Alive {
			p.Step(norm)
		}
	}

	r.updateProjectilesLocked(dt)
	r.checkTrailCollisionsLocked()
	r.checkWinConditionsLocked()
}

// checkWinConditionsLocked arbitrates the remaining win conditions each
// tick, after collisions: attrition first, then domination. When several
// players cross the domination threshold in the same tick, the earliest
// in join order wins. Attrition defers to a pending grace timer.
func (r *Room) checkWinConditionsLocked() {
	alive := r.alivePlayersLocked()

	if len(alive) == 1 && r.graceTimer == nil {
		r.endGameLocked(alive[0])
		return
	}

	for _, p := range alive {
		if p.TerritoryPercent() >= DominationPercent {
			r.endGameLocked(p)
			return
		}
	}
}

// EndGame concludes the match with the sole survivor as winner, if
// there is exactly one. Used by the post-kill grace timer.
func (r *Room) EndGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var winner *Player
	if alive := r.alivePlayersLocked(); len(alive) == 1 {
		winner = alive[0]
	}
	r.endGameLocked(winner)
}

// endGameLocked transitions Playing -> Finished: stops the loop,
// cancels pending timers, broadcasts the final standings and schedules
// the lobby reset.
func (r *Room) endGameLocked(winner *Player) {
	// A timer that was already blocked on the mutex when the room was
	// torn down must not broadcast or record anything
	if r.stopped || r.state != StatePlaying {
		return
	}
	r.state = StateFinished

	if r.loopStop != nil {
		close(r.loopStop)
		r.loopStop = nil
	}
	if r.startTimer != nil {
		r.startTimer.Stop()
		r.startTimer = nil
	}
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}

	duration := time.Since(r.startedAt)
	results := r.resultsLocked()
	winnerID := ""
	if winner != nil {
		winnerID = winner.ID
	}

	r.broadcastLocked(Envelope{T: MsgGameEnded, Data: GameEndedMsg{
		Winner:   winnerID,
		Results:  results,
		Duration: duration.Milliseconds(),
	}})

	if r.rec != nil {
		r.rec.RecordMatch(r.matchRecordLocked(winnerID, duration))
	}

	if !r.stopped {
		r.resetTimer = time.AfterFunc(LobbyResetDelay, r.ResetToLobby)
	}
}

// ResetToLobby respawns every player in place with fresh territory and
// reopens the room. The start countdown re-arms if enough players are
// still present.
func (r *Room) ResetToLobby() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || r.state != StateFinished {
		return
	}
	r.state = StateLobby
	r.startedAt = time.Time{}
	r.projectiles = nil
	r.resetTimer = nil

	for _, id := range r.order {
		r.players[id].Spawn(r.findStartLocked())
	}

	r.broadcastLocked(Envelope{T: MsgGameReset, Data: struct{}{}})

	if len(r.players) >= MinPlayersToStart {
		r.armStartLocked()
	}
}

// Stop tears the room down: loop and all timers cancelled. Used when
// the room empties and at process shutdown. Not a lifecycle transition.
func (r *Room) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true

	if r.loopStop != nil {
		close(r.loopStop)
		r.loopStop = nil
	}
	for _, t := range []*time.Timer{r.startTimer, r.graceTimer, r.resetTimer} {
		if t != nil {
			t.Stop()
		}
	}
	r.startTimer = nil
	r.graceTimer = nil
	r.resetTimer = nil
}

// BroadcastState pushes the full snapshot to every connection. Runs on
// its own timer, only while Playing.
func (r *Room) BroadcastState() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePlaying {
		return
	}
	push := statePush{T: MsgGameStateUpdate, State: r.snapshotLocked(time.Now())}
	data, err := msgpack.Marshal(&push)
	if err != nil {
		return
	}
	for _, client := range r.clients {
		client.SendBinary(data)
	}
}

// Snapshot returns the current full room state
func (r *Room) Snapshot() GameSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(time.Now())
}

func (r *Room) snapshotLocked(now time.Time) GameSnapshot {
	snap := GameSnapshot{
		Players:     make([]PlayerState, 0, len(r.players)),
		Projectiles: make([]ProjectileState, 0, len(r.projectiles)),
		GameState:   r.state.String(),
	}
	for _, id := range r.order {
		snap.Players = append(snap.Players, r.players[id].ToState())
	}
	for _, proj := range r.projectiles {
		snap.Projectiles = append(snap.Projectiles, proj.ToState())
	}
	if r.state == StatePlaying {
		snap.GameTime = now.Sub(r.startedAt).Milliseconds()
	}
	return snap
}

func (r *Room) sendSnapshotLocked(client Broadcaster, msgType string) {
	push := statePush{T: msgType, State: r.snapshotLocked(time.Now())}
	data, err := msgpack.Marshal(&push)
	if err != nil {
		return
	}
	client.SendBinary(data)
}

func (r *Room) armStartLocked() {
	if r.startTimer != nil {
		r.startTimer.Stop()
	}
	r.startTimer = time.AfterFunc(StartCountdown, r.StartGame)
}

func (r *Room) broadcastLocked(env Envelope) {
	for _, client := range r.clients {
		client.SendJSON(env)
	}
}

func (r *Room) alivePlayersLocked() []*Player {
	alive := make([]*Player, 0, len(r.players))
	for _, id := range r.order {
		if p := r.players[id]; p.Alive {
			alive = append(alive, p)
		}
	}
	return alive
}

func (r *Room) aliveCountLocked() int {
	n := 0
	for _, p := range r.players {
		if p.Alive {
			n++
		}
	}
	return n
}

// resultsLocked builds the final standings, sorted descending by the
// same one-decimal territory share the wire carries; equal displayed
// shares keep join order.
func (r *Room) resultsLocked() []ResultEntry {
	type ranked struct {
		entry ResultEntry
		pct   float64
	}
	rows := make([]ranked, 0, len(r.players))
	for _, id := range r.order {
		p := r.players[id]
		pct := p.TerritoryPercent()
		rows = append(rows, ranked{
			entry: ResultEntry{
				ID:               p.ID,
				Name:             p.Name,
				TerritoryPercent: strconv.FormatFloat(pct, 'f', 1, 64),
				Kills:            p.Kills,
				Alive:            p.Alive,
			},
			pct: math.Round(pct*10) / 10,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].pct > rows[j].pct })

	results := make([]ResultEntry, len(rows))
	for i, row := range rows {
		results[i] = row.entry
	}
	return results
}

func (r *Room) matchRecordLocked(winnerID string, duration time.Duration) MatchRecord {
	rec := MatchRecord{
		RoomID:   r.ID,
		Duration: duration.Milliseconds(),
	}
	for _, id := range r.order {
		p := r.players[id]
		if p.ID == winnerID {
			rec.Winner = p.Name
		}
		rec.Entries = append(rec.Entries, MatchEntry{
			AuthID:           p.AuthID,
			Name:             p.Name,
			TerritoryPercent: p.TerritoryPercent(),
			Kills:            p.Kills,
			Alive:            p.Alive,
			Won:              p.ID == winnerID,
		})
	}
	return rec
}

// findStartLocked picks a random start tile away from the map edge,
// retrying while another player is within 5 tiles on both axes.
func (r *Room) findStartLocked() Cell {
	var c Cell
	for attempts := 0; attempts < 100; attempts++ {
		c = Cell{
			X: 3 + rand.Intn(MapWidth-6),
			Y: 3 + rand.Intn(MapHeight-6),
		}
		if !r.isOccupiedLocked(c) {
			return c
		}
	}
	return c
}

func (r *Room) isOccupiedLocked(c Cell) bool {
	for _, p := range r.players {
		if absInt(p.Cell.X-c.X) < 5 && absInt(p.Cell.Y-c.Y) < 5 {
			return true
		}
	}
	return false
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
