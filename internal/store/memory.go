package store

import (
	"context"
	"sync"

	"github.com/unicom/engagement/internal/engagement"
)

// Memory keeps posts in process and serialises writers per post id. Writes to
// different posts never contend.
type Memory struct {
	mu     sync.RWMutex
	posts  map[string]*engagement.Post
	locks  keyedMutex
	runner *Runner
}

// NewMemory creates an empty in-memory store.
func NewMemory(runner *Runner) *Memory {
	if runner == nil {
		runner = NewRunner(RetryPolicy{}, nil, nil)
	}
	return &Memory{posts: make(map[string]*engagement.Post), runner: runner}
}

func (m *Memory) Create(ctx context.Context, p *engagement.Post) error {
	return m.runner.Do(ctx, "post.create", func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.posts[p.ID]; ok {
			return errExists
		}
		doc := p.Clone()
		if doc.Version == 0 {
			doc.Version = 1
		}
		m.posts[p.ID] = doc
		p.Version = doc.Version
		return nil
	})
}

func (m *Memory) Get(ctx context.Context, id string) (*engagement.Post, error) {
	var out *engagement.Post
	err := m.runner.Do(ctx, "post.get", func(context.Context) error {
		p, err := m.load(id)
		out = p
		return err
	})
	return out, err
}

func (m *Memory) load(id string) (*engagement.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, errMissing
	}
	return p.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, op, id string, fn MutateFunc) (*engagement.Post, error) {
	var out *engagement.Post
	err := m.runner.Do(ctx, op, func(ctx context.Context) error {
		unlock := m.locks.lock(id)
		defer unlock()

		next, err := m.load(id)
		if err != nil {
			return err
		}
		if err := fn(next); err != nil {
			return err
		}
		// A caller that gave up while fn ran must not see a commit.
		if err := ctx.Err(); err != nil {
			return err
		}
		next.Version++

		m.mu.Lock()
		m.posts[id] = next
		m.mu.Unlock()
		out = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, op, id string, check func(p *engagement.Post) error) error {
	return m.runner.Do(ctx, op, func(context.Context) error {
		unlock := m.locks.lock(id)
		defer unlock()

		cur, err := m.load(id)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(cur); err != nil {
				return err
			}
		}
		m.mu.Lock()
		delete(m.posts, id)
		m.mu.Unlock()
		return nil
	})
}

func (m *Memory) Close(context.Context) error { return nil }

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
