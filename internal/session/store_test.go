package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	s := NewStore()
	_, ok := s.Get()
	assert.False(t, ok)
	assert.Equal(t, Idle, s.Status())
	assert.Equal(t, 0, s.StepCount())
}

func TestSetAndGet(t *testing.T) {
	s := NewStore()
	s.Set(&CaptureSession{ID: "a", Status: Capturing, Steps: []Step{{ID: "x", Number: 1}}})

	got, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, Capturing, s.Status())
	assert.Equal(t, 1, s.StepCount())
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Set(&CaptureSession{ID: "a", Title: "original", Steps: []Step{{ID: "x"}}})

	got, _ := s.Get()
	got.Title = "mutated"
	got.Steps[0].Description = "mutated"

	got2, _ := s.Get()
	assert.Equal(t, "original", got2.Title)
	assert.Empty(t, got2.Steps[0].Description)
}

func TestSetStoresCopy(t *testing.T) {
	s := NewStore()
	sess := &CaptureSession{ID: "a", Title: "original"}
	s.Set(sess)
	sess.Title = "mutated"

	got, _ := s.Get()
	assert.Equal(t, "original", got.Title)
}

func TestGetReturnsCopyOfCompletedAt(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Set(&CaptureSession{ID: "a", CompletedAt: &now})

	got, _ := s.Get()
	mutated := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	*got.CompletedAt = mutated

	got2, _ := s.Get()
	assert.False(t, got2.CompletedAt.Equal(mutated))
}

func TestUpdateCommitsOnSuccess(t *testing.T) {
	s := NewStore()
	s.Set(&CaptureSession{ID: "a"})

	out, err := s.Update(func(c *CaptureSession) error {
		c.Steps = append(c.Steps, Step{ID: "x", Number: 1})
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, out.Steps, 1)
	assert.Equal(t, 1, s.StepCount())
}

func TestUpdateDiscardsOnError(t *testing.T) {
	s := NewStore()
	s.Set(&CaptureSession{ID: "a", Title: "keep"})

	boom := errors.New("boom")
	_, err := s.Update(func(c *CaptureSession) error {
		c.Title = "lost"
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, _ := s.Get()
	assert.Equal(t, "keep", got.Title)
}

func TestUpdateWithoutSession(t *testing.T) {
	s := NewStore()
	_, err := s.Update(func(*CaptureSession) error { return nil })
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestUpdateAndNotify(t *testing.T) {
	s := NewStore()
	s.Set(&CaptureSession{ID: "a"})

	var seen *CaptureSession
	_, err := s.UpdateAndNotify(func(c *CaptureSession) error {
		c.Title = "alpha"
		return nil
	}, func(snap *CaptureSession) {
		seen = snap
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "alpha", seen.Title)
}

func TestUpdateAndNotifyNilCallback(t *testing.T) {
	s := NewStore()
	s.Set(&CaptureSession{ID: "a"})
	_, err := s.UpdateAndNotify(func(c *CaptureSession) error { return nil }, nil)
	assert.NoError(t, err)
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Set(&CaptureSession{ID: "a", Status: Capturing})
	s.Clear()
	_, ok := s.Get()
	assert.False(t, ok)
	assert.Equal(t, Idle, s.Status())
}

func TestToolbar(t *testing.T) {
	s := NewStore()
	_, ok := s.Toolbar()
	assert.False(t, ok)

	s.SetToolbar(ToolbarPosition{X: 10, Y: 20})
	p, ok := s.Toolbar()
	require.True(t, ok)
	assert.Equal(t, ToolbarPosition{X: 10, Y: 20}, p)

	// toolbar outlives the session
	s.Set(&CaptureSession{ID: "a"})
	s.Clear()
	_, ok = s.Toolbar()
	assert.True(t, ok)

	s.ClearToolbar()
	_, ok = s.Toolbar()
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	s.Set(&CaptureSession{ID: "a"})
	var wg sync.WaitGroup
	const goroutines = 50

	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			s.Update(func(c *CaptureSession) error {
				c.Steps = append(c.Steps, Step{ID: id})
				c.Renumber()
				return nil
			})
		}(fmt.Sprintf("s%d", i))
		go func() {
			defer wg.Done()
			s.Get()
			s.Status()
			s.StepCount()
		}()
	}
	wg.Wait()

	got, _ := s.Get()
	assert.Len(t, got.Steps, goroutines)
	for i, st := range got.Steps {
		assert.Equal(t, i+1, st.Number)
	}
}
