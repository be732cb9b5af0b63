// Package store persists post aggregates.
//
// Every backend offers the same contract: a mutation runs against a private
// copy of the latest committed post and is committed atomically, or not at
// all. Optimistic backends retry on version conflicts; exhausting the retry
// budget surfaces engagement.CodeUnavailable.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/unicom/engagement/internal/engagement"
)

// MutateFunc changes a post in place. It may run more than once when a
// concurrent writer wins the race, so it must not have side effects beyond p.
type MutateFunc func(p *engagement.Post) error

// Store is the aggregate persistence boundary.
type Store interface {
	// Create inserts a new post. It fails with CodeConflict if the id exists.
	Create(ctx context.Context, p *engagement.Post) error
	// Get returns a copy of the committed post or CodeNotFound.
	Get(ctx context.Context, id string) (*engagement.Post, error)
	// Update applies fn atomically and returns the committed post.
	Update(ctx context.Context, op, id string, fn MutateFunc) (*engagement.Post, error)
	// Delete removes the post if check, run against the current state,
	// returns nil.
	Delete(ctx context.Context, op, id string, check func(p *engagement.Post) error) error
	Close(ctx context.Context) error
}

var (
	// errVersionConflict means another writer committed first.
	errVersionConflict = errors.New("post version conflict")
	errMissing         = errors.New("post does not exist")
	errExists          = errors.New("post already exists")
)

// transientError marks a backend failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func retryable(err error) bool {
	var te *transientError
	return errors.Is(err, errVersionConflict) || errors.As(err, &te)
}

// backend is what an optimistic store implements. Versioned turns it into a
// Store by adding the read-clone-mutate-compare-and-swap loop.
type backend interface {
	insert(ctx context.Context, p *engagement.Post) error
	load(ctx context.Context, id string) (*engagement.Post, error)
	replace(ctx context.Context, p *engagement.Post, expectedVersion int64) error
	remove(ctx context.Context, id string, expectedVersion int64) error
	close(ctx context.Context) error
}

// versioned implements Store over any backend with version compare-and-swap.
type versioned struct {
	b      backend
	runner *Runner
}

func newVersioned(b backend, runner *Runner) *versioned {
	if runner == nil {
		runner = NewRunner(RetryPolicy{}, nil, nil)
	}
	return &versioned{b: b, runner: runner}
}

func (s *versioned) Create(ctx context.Context, p *engagement.Post) error {
	doc := p.Clone()
	if doc.Version == 0 {
		doc.Version = 1
	}
	err := s.runner.Do(ctx, "post.create", func(ctx context.Context) error {
		return s.b.insert(ctx, doc)
	})
	if err == nil {
		p.Version = doc.Version
	}
	return err
}

func (s *versioned) Get(ctx context.Context, id string) (*engagement.Post, error) {
	var out *engagement.Post
	err := s.runner.Do(ctx, "post.get", func(ctx context.Context) error {
		p, err := s.b.load(ctx, id)
		out = p
		return err
	})
	return out, err
}

func (s *versioned) Update(ctx context.Context, op, id string, fn MutateFunc) (*engagement.Post, error) {
	var out *engagement.Post
	err := s.runner.Do(ctx, op, func(ctx context.Context) error {
		out = nil
		cur, err := s.b.load(ctx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Version = cur.Version + 1
		if err := s.b.replace(ctx, next, cur.Version); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *versioned) Delete(ctx context.Context, op, id string, check func(p *engagement.Post) error) error {
	return s.runner.Do(ctx, op, func(ctx context.Context) error {
		cur, err := s.b.load(ctx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(cur); err != nil {
				return err
			}
		}
		return s.b.remove(ctx, id, cur.Version)
	})
}

func (s *versioned) Close(ctx context.Context) error {
	return s.b.close(ctx)
}

// domainError translates backend sentinels into the engagement taxonomy.
func domainError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errMissing):
		return engagement.NewError(engagement.CodeNotFound, op, "post not found")
	case errors.Is(err, errExists):
		return engagement.NewError(engagement.CodeConflict, op, "post already exists")
	case engagement.CodeOf(err) != "":
		return err
	default:
		return engagement.Unavailable(op, fmt.Errorf("store: %w", err))
	}
}
