package wire

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrConnectionFailed is a connection attempt the simulated radio dropped
var ErrConnectionFailed = errors.New("simulated connection failure")

// LinkProfile controls how realistic outbound connections are. The zero
// value is a perfect link: no delay, no failures.
type LinkProfile struct {
	MinConnectDelay    time.Duration
	MaxConnectDelay    time.Duration
	ConnectFailureRate float64 // 0.016 is roughly what phones see
	Seed               int64   // non-zero makes delays and failures reproducible
}

// RealisticLink returns timing close to a phone-to-phone link
func RealisticLink() LinkProfile {
	return LinkProfile{
		MinConnectDelay:    30 * time.Millisecond,
		MaxConnectDelay:    100 * time.Millisecond,
		ConnectFailureRate: 0.016,
	}
}

// Simulator applies a LinkProfile to connection attempts
type Simulator struct {
	profile LinkProfile

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(p LinkProfile) *Simulator {
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if p.MaxConnectDelay < p.MinConnectDelay {
		p.MaxConnectDelay = p.MinConnectDelay
	}
	return &Simulator{profile: p, rng: rand.New(rand.NewSource(seed))}
}

// ConnectionDelay returns a delay in [MinConnectDelay, MaxConnectDelay)
func (s *Simulator) ConnectionDelay() time.Duration {
	lo, hi := s.profile.MinConnectDelay, s.profile.MaxConnectDelay
	if lo >= hi {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)))
}

// ShouldConnectionSucceed rolls against ConnectFailureRate
func (s *Simulator) ShouldConnectionSucceed() bool {
	if s.profile.ConnectFailureRate <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() >= s.profile.ConnectFailureRate
}

// Connect waits out the connection delay, then reports ErrConnectionFailed
// for a dropped attempt. It returns ctx.Err() if ctx ends first.
func (s *Simulator) Connect(ctx context.Context) error {
	if d := s.ConnectionDelay(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if !s.ShouldConnectionSucceed() {
		return ErrConnectionFailed
	}
	return nil
}
