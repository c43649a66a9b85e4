package kv

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	hash      map[string]string
	set       map[string]struct{}
	counter   int64
	expiresAt time.Time
}

func (e *entry) empty() bool {
	return len(e.hash) == 0 && len(e.set) == 0 && e.counter == 0
}

// Memory keeps key-value state in process. Expired keys are evicted lazily
// on access, and a key whose last field or member is removed disappears.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*entry
}

var _ Store = (*Memory)(nil)

// NewMemory constructs an in-memory store on the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock constructs an in-memory store reading time from now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		now:     now,
		entries: make(map[string]*entry),
	}
}

// lookup must be called with mu held.
func (m *Memory) lookup(key string, now time.Time) *entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string)
	if e := m.lookup(key, m.now()); e != nil {
		for k, v := range e.hash {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.lookup(key, now)
	switch {
	case e == nil:
		return MissingKey, nil
	case e.expiresAt.IsZero():
		return NoExpiry, nil
	default:
		return e.expiresAt.Sub(now).Round(time.Second), nil
	}
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	if e := m.lookup(key, m.now()); e != nil {
		for member := range e.set {
			out = append(out, member)
		}
	}
	return out, nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(key, m.now())
	if e == nil {
		return false, nil
	}
	_, ok := e.set[member]
	return ok, nil
}

func (m *Memory) TakeHash(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string)
	if e := m.lookup(key, m.now()); e != nil {
		for k, v := range e.hash {
			out[k] = v
		}
		delete(m.entries, key)
	}
	return out, nil
}

func (m *Memory) Pipeline(ctx context.Context, fn func(Pipe)) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	p := &memoryPipe{}
	fn(p)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, op := range p.ops {
		op(m, now)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// ensure returns the live entry for key, creating it if needed.
func (m *Memory) ensure(key string, now time.Time) *entry {
	if e := m.lookup(key, now); e != nil {
		return e
	}
	e := &entry{}
	m.entries[key] = e
	return e
}

type memoryPipe struct {
	ops []func(m *Memory, now time.Time)
}

func (p *memoryPipe) HSet(key string, fields map[string]string) {
	p.ops = append(p.ops, func(m *Memory, now time.Time) {
		e := m.ensure(key, now)
		if e.hash == nil {
			e.hash = make(map[string]string, len(fields))
		}
		for k, v := range fields {
			e.hash[k] = v
		}
	})
}

func (p *memoryPipe) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(m *Memory, now time.Time) {
		m.expireAt(key, now.Add(ttl), now)
	})
}

func (p *memoryPipe) ExpireAt(key string, at time.Time) {
	p.ops = append(p.ops, func(m *Memory, now time.Time) {
		m.expireAt(key, at, now)
	})
}

func (m *Memory) expireAt(key string, at, now time.Time) {
	e := m.lookup(key, now)
	if e == nil {
		return
	}
	if !now.Before(at) {
		delete(m.entries, key)
		return
	}
	e.expiresAt = at
}

func (p *memoryPipe) Incr(key string) *Counter {
	c := &Counter{}
	p.ops = append(p.ops, func(m *Memory, now time.Time) {
		e := m.ensure(key, now)
		e.counter++
		c.val = e.counter
	})
	return c
}

func (p *memoryPipe) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	p.ops = append(p.ops, func(m *Memory, now time.Time) {
		e := m.ensure(key, now)
		if e.set == nil {
			e.set = make(map[string]struct{}, len(members))
		}
		for _, member := range members {
			e.set[member] = struct{}{}
		}
	})
}

func (p *memoryPipe) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	p.ops = append(p.ops, func(m *Memory, now time.Time) {
		e := m.lookup(key, now)
		if e == nil {
			return
		}
		for _, member := range members {
			delete(e.set, member)
		}
		if e.empty() {
			delete(m.entries, key)
		}
	})
}

func (p *memoryPipe) Del(keys ...string) {
	p.ops = append(p.ops, func(m *Memory, _ time.Time) {
		for _, key := range keys {
			delete(m.entries, key)
		}
	})
}
