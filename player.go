package main

import (
	"math"
	"math/rand"
	"time"
)

const (
	BaseSpeed       = 4.0 // pixels per tick at the nominal rate
	BoostMultiplier = 2.0
	BoostCost       = 1    // territory cells required to boost at all
	BoostUpkeepProb = 0.02 // per-tick chance boosting consumes one cell
	MinTerritory    = 9    // the 3x3 seed; consumption never goes below it
	ShotCost        = 5    // territory cells per shot
)

// ShotInterval is the per-player shot rate limit
const ShotInterval = 500 * time.Millisecond

// Input is the sampled movement command for one player. Overwritten by
// every playerInput message, never queued.
type Input struct {
	DX       float64
	DY       float64
	Shooting bool
	Boosting bool
}

// Player is one connection's presence in a room. Holds no transport
// handle; the room routes outbound traffic through its own client map.
type Player struct {
	ID    string
	Name  string
	Color string

	X, Y  float64 // pixel position
	Cell  Cell    // grid cell, recomputed from position each tick
	Speed float64

	// Territory is the set of owned cells. Trail is the ordered path
	// walked outside it since last returning home; the last element is
	// the current head.
	Territory map[Cell]struct{}
	Trail     []Cell

	Kills    int
	Alive    bool
	Boosting bool
	LastShot time.Time
	Input    Input

	AuthID int64 // account id, 0 for guests
}

// NewPlayer creates a player spawned at the center of start with a
// 3x3 starting territory around it.
func NewPlayer(id, name, color string, start Cell) *Player {
	p := &Player{
		ID:    id,
		Name:  name,
		Color: color,
		Speed: BaseSpeed,
		Alive: true,
	}
	p.Spawn(start)
	return p
}

// Spawn places the player at start and resets all match state: fresh
// 3x3 territory, empty trail, zero kills, alive.
func (p *Player) Spawn(start Cell) {
	p.X, p.Y = start.Center()
	p.Cell = start
	p.Territory = make(map[Cell]struct{}, MinTerritory)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			p.Territory[Cell{X: start.X + dx, Y: start.Y + dy}] = struct{}{}
		}
	}
	p.Trail = nil
	p.Kills = 0
	p.Alive = true
	p.Boosting = false
	p.LastShot = time.Time{}
	p.Input = Input{}
}

// Step advances the player by one simulation tick. norm is the elapsed
// time divided by the nominal tick interval, 1.0 at a clean 20 Hz tick.
func (p *Player) Step(norm float64) {
	in := p.Input

	speed := p.Speed
	p.Boosting = false
	if in.Boosting && len(p.Territory) >= BoostCost {
		speed *= BoostMultiplier
		p.Boosting = true
		// Boost upkeep: occasionally burn one owned cell
		if rand.Float64() < BoostUpkeepProb {
			p.ConsumeTerritory(1)
		}
	}

	// Normalize diagonal movement so it is not faster than axis movement
	dx, dy := in.DX, in.DY
	if dx != 0 && dy != 0 {
		length := math.Sqrt(dx*dx + dy*dy)
		dx /= length
		dy /= length
	}

	p.X, p.Y = ClampToMap(p.X+dx*speed*norm, p.Y+dy*speed*norm)

	cell := CellAt(p.X, p.Y)
	if _, home := p.Territory[cell]; home {
		// Back inside owned ground: convert the trail, if any
		if len(p.Trail) > 0 {
			p.ClaimTrail()
			p.Trail = p.Trail[:0]
		}
	} else if n := len(p.Trail); n == 0 || p.Trail[n-1] != cell {
		// Dedupe consecutive repeats only; revisiting an earlier cell
		// pushes it again
		p.Trail = append(p.Trail, cell)
	}
	p.Cell = cell
}

// ClaimTrail unions every trail cell into the territory, then fills the
// trail's axis-aligned bounding rectangle. This is intentionally not a
// polygon flood fill: it over-claims the enclosing rectangle and ignores
// cells other players hold there. Part of the gameplay contract.
func (p *Player) ClaimTrail() {
	if len(p.Trail) == 0 {
		return
	}
	minX, minY := p.Trail[0].X, p.Trail[0].Y
	maxX, maxY := minX, minY
	for _, c := range p.Trail {
		p.Territory[c] = struct{}{}
		if c.X < minX {
			minX = c.X
		}
		if c.X > maxX {
			maxX = c.X
		}
		if c.Y < minY {
			minY = c.Y
		}
		if c.Y > maxY {
			maxY = c.Y
		}
	}
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			p.Territory[Cell{X: x, Y: y}] = struct{}{}
		}
	}
}

// ConsumeTerritory removes up to n arbitrary cells, never drawing the
// set below the 3x3 minimum. Returns the number actually removed.
func (p *Player) ConsumeTerritory(n int) int {
	removed := 0
	for c := range p.Territory {
		if removed >= n || len(p.Territory) <= MinTerritory {
			break
		}
		delete(p.Territory, c)
		removed++
	}
	return removed
}

// TrailContains reports whether the cell appears anywhere in the trail
func (p *Player) TrailContains(c Cell) bool {
	for _, t := range p.Trail {
		if t == c {
			return true
		}
	}
	return false
}

// CanShoot reports whether a shot at time now passes the rate limit and
// the territory cost gate.
func (p *Player) CanShoot(now time.Time) bool {
	if !p.Alive {
		return false
	}
	if now.Sub(p.LastShot) < ShotInterval {
		return false
	}
	return len(p.Territory) >= ShotCost
}

// TerritoryPercent returns the share of the map this player owns
func (p *Player) TerritoryPercent() float64 {
	return float64(len(p.Territory)) / float64(TotalTiles) * 100
}

// ToState converts to protocol state
func (p *Player) ToState() PlayerState {
	territory := make([]Cell, 0, len(p.Territory))
	for c := range p.Territory {
		territory = append(territory, c)
	}
	trail := make([]Cell, len(p.Trail))
	copy(trail, p.Trail)
	return PlayerState{
		ID:        p.ID,
		Name:      p.Name,
		Color:     p.Color,
		X:         p.X,
		Y:         p.Y,
		GridX:     p.Cell.X,
		GridY:     p.Cell.Y,
		Territory: territory,
		Trail:     trail,
		Kills:     p.Kills,
		Alive:     p.Alive,
		Boosting:  p.Boosting,
	}
}
