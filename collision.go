package main

import "time"

// updateProjectilesLocked advances every projectile and resolves hits.
// A projectile is consumed by its first hit; the first living non-owner
// in join order within range is the victim.
func (r *Room) updateProjectilesLocked(dt time.Duration) {
	keep := r.projectiles[:0]
	for _, proj := range r.projectiles {
		proj.Update(dt)
		if proj.Alive {
			for _, id := range r.order {
				target := r.players[id]
				if !target.Alive || target.ID == proj.OwnerID {
					continue
				}
				if proj.Hits(target) {
					r.killLocked(target, r.players[proj.OwnerID])
					proj.Alive = false
					break
				}
			}
		}
		if proj.Alive {
			keep = append(keep, proj)
		}
	}
	r.projectiles = keep
}

// checkTrailCollisionsLocked kills any player whose current cell lies on
// an opponent's trail. Both directions of a pair are checked
// independently, so a single tick can kill both.
func (r *Room) checkTrailCollisionsLocked() {
	alive := r.alivePlayersLocked()
	for i := 0; i < len(alive); i++ {
		for j := i + 1; j < len(alive); j++ {
			a, b := alive[i], alive[j]
			if b.TrailContains(a.Cell) {
				r.killLocked(b, a)
			}
			if a.TrailContains(b.Cell) {
				r.killLocked(a, b)
			}
		}
	}
}

// killLocked marks the victim dead and transfers their whole territory
// to the killer. When this leaves at most one player alive the match
// end is scheduled after a short grace delay so clients observe the
// kill before the result.
func (r *Room) killLocked(victim, killer *Player) {
	if victim == nil || !victim.Alive {
		return
	}
	victim.Alive = false

	killerID := ""
	if killer != nil {
		killer.Kills++
		for c := range victim.Territory {
			killer.Territory[c] = struct{}{}
		}
		killerID = killer.ID
	}

	r.broadcastLocked(Envelope{T: MsgPlayerKilled, Data: PlayerKilledMsg{
		Victim: victim.ID,
		Killer: killerID,
	}})
	if r.rec != nil {
		r.rec.RecordKill(r.ID, victim.Name, killerName(killer))
	}

	if r.aliveCountLocked() <= 1 && r.graceTimer == nil {
		r.graceTimer = time.AfterFunc(KillGraceDelay, r.EndGame)
	}
}

func killerName(killer *Player) string {
	if killer == nil {
		return ""
	}
	return killer.Name
}
