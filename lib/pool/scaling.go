package pool

import (
	"time"
)

// scalingState is guarded by Pool.mu
type scalingState struct {
	boost        int   // extra threads on top of the client based requirement
	peak         int64 // rolling peak of pending items
	lastBoost    time.Time
	lastStepDown time.Time
}

func (s *scalingState) reset(now time.Time) {
	*s = scalingState{lastBoost: now, lastStepDown: now}
}

// runScaling calls tick every ScalingInterval until the pool is closed
func (p *Pool[T]) runScaling() {
	defer close(p.tickDone)

	ticker := time.NewTicker(p.cfg.ScalingInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			p.tick(now)
		case <-p.quit:
			return
		}
	}
}

// requiredThreads returns the client based thread requirement clamped to the bounds
func (p *Pool[T]) requiredThreads() int {
	clients := int(p.clients.Load())
	required := (clients + p.cfg.ClientsPerThread - 1) / p.cfg.ClientsPerThread
	return p.clamp(required)
}

func (p *Pool[T]) clamp(n int) int {
	return min(max(n, p.cfg.MinThreads), p.cfg.MaxThreads)
}

// tick runs one scaling step: update boost state, then grow to or shrink toward the target.
// At most one worker is removed per tick
func (p *Pool[T]) tick(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return
	}

	s := &p.scaling
	cfg := p.cfg
	pending := p.pending.Load()
	required := p.requiredThreads()

	// boost when the queue depth jumps above the rolling peak
	if pending > s.peak+int64(cfg.BoostBarrier) && now.Sub(s.lastBoost) >= cfg.BoostCooldown && required+s.boost < cfg.MaxThreads {
		s.boost++
		s.lastBoost = now
		s.lastStepDown = now
		Logger.Debugf("boost to +%d threads (pending %d, peak %d)", s.boost, pending, s.peak)
	}

	// step down once the backlog subsided
	if s.boost > 0 && pending <= int64(cfg.BoostBarrier) &&
		now.Sub(s.lastBoost) >= cfg.StepDownCooldown && now.Sub(s.lastStepDown) >= cfg.StepDownCooldown {
		s.boost--
		s.lastStepDown = now
		Logger.Debugf("step down to +%d threads", s.boost)
	}

	// rolling peak decays by an eighth per tick
	s.peak = max(pending, s.peak-s.peak/8)

	target := p.clamp(required + s.boost)
	current := len(p.workers)

	switch {
	case current < target:
		p.grow(target-current, now)
	case current > target:
		p.shrink(target, now)
	}
}

// grow spawns n workers. With ReshardOnGrow the queued items are redistributed over
// the new thread count while producers are paused
func (p *Pool[T]) grow(n int, now time.Time) {
	spawned := make([]*worker[T], 0, n)
	for i := 0; i < n; i++ {
		spawned = append(spawned, p.spawn(now))
	}

	p.gate.Lock()
	p.workers = append(p.workers, spawned...)
	moved := 0
	if p.cfg.ReshardOnGrow {
		old := p.workers[:len(p.workers)-n]
		snapshot := make([][]WorkItem[T], len(old))
		for i, w := range old {
			snapshot[i] = w.queue.Drain()
		}
		for _, items := range snapshot {
			for _, item := range items {
				p.workers[shard(item.Discriminator, len(p.workers))].queue.Push(item)
				moved++
			}
		}
	}
	workers := p.workers
	p.gate.Unlock()

	for _, w := range workers {
		w.signal()
	}
	Logger.Infof("pool grew to %d threads (%d items resharded)", len(workers), moved)
}

// shrink removes the least recently useful worker if the thread count is above target
// and that worker is clear of the idle timeout and the start protection
func (p *Pool[T]) shrink(target int, now time.Time) {
	if len(p.workers) <= target || len(p.workers) <= p.cfg.MinThreads {
		return
	}

	victim := -1
	var oldest int64
	for i, w := range p.workers {
		if w.data.Running.Load() {
			continue
		}
		idleFor := now.Sub(time.Unix(0, w.data.lastUseful()))
		age := now.Sub(time.Unix(0, w.data.StartTick.Load()))
		if idleFor < p.cfg.IdleTimeout || age < p.cfg.StartProtection {
			continue
		}
		if victim == -1 || w.data.lastUseful() < oldest {
			victim, oldest = i, w.data.lastUseful()
		}
	}
	if victim == -1 {
		return
	}

	p.gate.Lock()
	w := p.workers[victim]
	last := len(p.workers) - 1
	p.workers[victim] = p.workers[last]
	p.workers[last] = nil
	p.workers = p.workers[:last]

	// migrate what is left to the new last worker
	w.queue.Close()
	leftover := w.queue.Drain()
	heir := p.workers[len(p.workers)-1]
	for _, item := range leftover {
		heir.queue.Push(item)
	}
	count := len(p.workers)
	p.gate.Unlock()

	w.halt()
	heir.signal()
	Logger.Infof("pool shrank to %d threads (worker %d removed, %d items migrated)", count, w.data.ID, len(leftover))
}
