package credentials

import (
	"context"
	"fmt"
	"sync"
)

// Lease is one checkout of a credential. It must be released exactly once.
type Lease struct {
	ID         uint64
	Credential Credential
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Outstanding int `json:"outstanding"`
	Waiting     int `json:"waiting"`
}

// Pool is a blocking leasing queue over a fixed set of credentials.
//
// Checkout blocks while every credential is leased; this is the intended
// backpressure when the requested concurrency exceeds the working set.
// Pool is safe for concurrent use.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	available   []Credential
	outstanding map[uint64]Credential
	nextID      uint64
	waiting     int
	total       int
}

// NewPool loads the fixed working set.
func NewPool(creds []Credential) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrEmptySource
	}

	available := make([]Credential, 0, len(creds))
	for i, c := range creds {
		if c.Username == "" {
			return nil, &MalformedError{Reason: fmt.Sprintf("entry %d has an empty username", i)}
		}
		available = append(available, c)
	}

	p := &Pool{
		available:   available,
		outstanding: make(map[uint64]Credential, len(creds)),
		total:       len(creds),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Checkout removes and returns the oldest available credential, waiting
// until one is released if none is available.
//
// If ctx ends first, Checkout returns ctx.Err() and nothing is leased.
func (p *Pool) Checkout(ctx context.Context) (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Waiters sleep on the condition variable, so cancellation has to
	// wake them explicitly.
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	for len(p.available) == 0 {
		if err := ctx.Err(); err != nil {
			return Lease{}, err
		}
		p.waiting++
		p.cond.Wait()
		p.waiting--
	}
	if err := ctx.Err(); err != nil {
		// Hand the wakeup on; another waiter may use the credential.
		p.cond.Signal()
		return Lease{}, err
	}

	cred := p.available[0]
	p.available[0] = Credential{}
	p.available = p.available[1:]

	p.nextID++
	lease := Lease{ID: p.nextID, Credential: cred}
	p.outstanding[lease.ID] = cred
	return lease, nil
}

// Release returns a leased credential and wakes one waiter.
//
// Releasing a lease twice, or a lease this pool never issued, returns
// ErrUnknownLease and leaves the pool unchanged.
func (p *Pool) Release(lease Lease) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cred, ok := p.outstanding[lease.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownLease, lease.ID)
	}
	delete(p.outstanding, lease.ID)
	p.available = append(p.available, cred)
	p.cond.Signal()
	return nil
}

// Stats returns the current pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Total:       p.total,
		Available:   len(p.available),
		Outstanding: len(p.outstanding),
		Waiting:     p.waiting,
	}
}

// Len returns the size of the working set.
func (p *Pool) Len() int {
	return p.total
}
