package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stepsnap/stepsnap/internal/session"
)

const saveTimeout = 10 * time.Second

// saver serializes writes to the Persister. Only the newest pending job
// survives, so an older snapshot never lands after a newer one.
type saver struct {
	p   Persister
	log *slog.Logger

	mu      sync.Mutex
	pending *saveJob
	running bool
	wg      sync.WaitGroup
}

// saveJob writes snap, or purges storage when snap is nil.
type saveJob struct {
	snap *session.CaptureSession
}

func newSaver(p Persister, log *slog.Logger) *saver {
	return &saver{p: p, log: log}
}

func (s *saver) save(snap *session.CaptureSession) {
	s.enqueue(saveJob{snap: snap.Clone()})
}

func (s *saver) purge() {
	s.enqueue(saveJob{})
}

func (s *saver) enqueue(j saveJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &j
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.loop()
}

func (s *saver) loop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		j := s.pending
		s.pending = nil
		if j == nil {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.do(*j)
	}
}

func (s *saver) do(j saveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if j.snap == nil {
		if err := s.p.Purge(ctx); err != nil {
			s.log.Warn("purge failed", "error", err)
		}
		return
	}
	if err := s.p.Save(ctx, j.snap); err != nil {
		s.log.Warn("save failed", "session", j.snap.ID, "error", err)
	}
}

func (s *saver) wait() {
	s.wg.Wait()
}
