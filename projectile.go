package main

import (
	"math"
	"time"
)

const (
	ProjectileSpeed  = 12.0 // pixels per 16 ms step
	ProjectileRadius = 18.0 // hit distance against a player center
)

// ProjectileLifetime is how long a shot stays live
const ProjectileLifetime = 3000 * time.Millisecond

// Projectile is a single shot in flight
type Projectile struct {
	ID      string
	OwnerID string
	X, Y    float64
	DX, DY  float64 // velocity vector, pixels per 16 ms
	Life    time.Duration
	Alive   bool
}

// NewProjectile spawns a shot at the owner's position. Direction comes
// from the dominant axis of the owner's last input; ties and zero input
// default to up.
func NewProjectile(owner *Player) *Projectile {
	dx, dy := 0.0, -1.0
	in := owner.Input
	switch {
	case math.Abs(in.DX) > math.Abs(in.DY):
		if in.DX > 0 {
			dx, dy = 1, 0
		} else {
			dx, dy = -1, 0
		}
	case math.Abs(in.DY) > math.Abs(in.DX):
		if in.DY > 0 {
			dx, dy = 0, 1
		} else {
			dx, dy = 0, -1
		}
	}
	return &Projectile{
		ID:      owner.ID + "_" + GenerateID(3),
		OwnerID: owner.ID,
		X:       owner.X,
		Y:       owner.Y,
		DX:      dx * ProjectileSpeed,
		DY:      dy * ProjectileSpeed,
		Life:    ProjectileLifetime,
		Alive:   true,
	}
}

// Update advances the projectile by the elapsed real time, normalized to
// 16 ms steps. Marks it dead on expiry or map exit.
func (p *Projectile) Update(dt time.Duration) {
	if !p.Alive {
		return
	}
	step := dt.Seconds() * 1000 / 16
	p.X += p.DX * step
	p.Y += p.DY * step
	p.Life -= dt

	if p.Life <= 0 || p.X < 0 || p.X > MapWidthPx || p.Y < 0 || p.Y > MapHeightPx {
		p.Alive = false
	}
}

// Hits reports whether the projectile is within kill range of the player
func (p *Projectile) Hits(target *Player) bool {
	dx := p.X - target.X
	dy := p.Y - target.Y
	return math.Sqrt(dx*dx+dy*dy) < ProjectileRadius
}

// ToState converts to protocol state
func (p *Projectile) ToState() ProjectileState {
	return ProjectileState{
		ID:    p.ID,
		X:     p.X,
		Y:     p.Y,
		DX:    p.DX,
		DY:    p.DY,
		Owner: p.OwnerID,
		Life:  p.Life.Milliseconds(),
	}
}
