// Package liveness tracks ephemeral, in-memory device heartbeat state: the
// last heartbeat sequence and timestamp per device, plus a small bounded
// FIFO of commands waiting to be delivered on the device's next heartbeat
// response. None of this is durable — a restart simply waits for devices
// to re-announce themselves on their next heartbeat.
package liveness

import (
	"log/slog"
	"sync"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// MaxQueueDepth bounds a device's pending command queue.
const MaxQueueDepth = 32

type entry struct {
	lastSeq  uint64
	lastSeen time.Time
	queue    []domain.Command
}

// Store is an in-memory implementation of domain.LivenessStore.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration // how long a device is considered live without a new heartbeat
	log     *slog.Logger
}

// New builds a Store. ttl should be derived from the configured heartbeat
// interval and miss threshold (interval * missThreshold).
func New(ttl time.Duration, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{entries: make(map[string]*entry), ttl: ttl, log: log}
}

func (s *Store) MarkAlive(deviceID string, seq uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[deviceID]
	if !ok {
		e = &entry{}
		s.entries[deviceID] = e
	} else if seq <= e.lastSeq {
		return domain.ErrStaleSequence
	}
	e.lastSeq = seq
	e.lastSeen = at
	return nil
}

func (s *Store) IsLive(deviceID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[deviceID]
	if !ok {
		return false
	}
	return at.Sub(e.lastSeen) <= s.ttl
}

// Enqueue appends cmd to deviceID's pending command queue. On overflow it
// drops the oldest non-shutdown command and logs a warning rather than
// rejecting cmd outright; a queued shutdown is durable and is never
// dropped to make room.
func (s *Store) Enqueue(deviceID string, cmd domain.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[deviceID]
	if !ok {
		e = &entry{}
		s.entries[deviceID] = e
	}
	if len(e.queue) >= MaxQueueDepth {
		if dropped, ok := dropOldestDroppable(e.queue); ok {
			e.queue = dropped
			s.log.Warn("liveness: command queue full, dropped oldest", "device_id", deviceID)
		} else {
			s.log.Warn("liveness: command queue full of durable commands, rejecting", "device_id", deviceID)
			return domain.ErrCommandQueueFull
		}
	}
	e.queue = append(e.queue, cmd)
	return nil
}

// dropOldestDroppable removes the oldest non-shutdown command from queue.
// It returns ok=false if every queued command is a durable shutdown.
func dropOldestDroppable(queue []domain.Command) ([]domain.Command, bool) {
	for i, cmd := range queue {
		if cmd.Type == domain.CommandShutdown {
			continue
		}
		next := make([]domain.Command, 0, len(queue)-1)
		next = append(next, queue[:i]...)
		next = append(next, queue[i+1:]...)
		return next, true
	}
	return queue, false
}

func (s *Store) Dequeue(deviceID string) domain.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[deviceID]
	if !ok || len(e.queue) == 0 {
		return domain.AckCommand()
	}
	cmd := e.queue[0]
	e.queue = e.queue[1:]
	return cmd
}

func (s *Store) Stale(before time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, e := range s.entries {
		if e.lastSeen.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) Forget(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, deviceID)
}
