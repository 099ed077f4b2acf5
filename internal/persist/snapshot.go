package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/stepsnap/stepsnap/internal/session"
)

const (
	KeySession    = "stepsnap.session"
	KeyImages     = "stepsnap.images"
	KeyThumbnails = "stepsnap.thumbnails"

	// DefaultImageRetention is how many full images a snapshot keeps.
	DefaultImageRetention = 20
)

var allKeys = []string{KeySession, KeyImages, KeyThumbnails}

// Snapshotter splits a session into its three records and reassembles it.
type Snapshotter struct {
	kv        KV
	retention int
	now       func() time.Time
}

func NewSnapshotter(kv KV, retention int) *Snapshotter {
	if retention <= 0 {
		retention = DefaultImageRetention
	}
	return &Snapshotter{kv: kv, retention: retention, now: time.Now}
}

// Save writes the three records. Full images are kept only for the newest
// steps by creation time; thumbnails are kept for all of them.
func (s *Snapshotter) Save(ctx context.Context, sess *session.CaptureSession) error {
	meta := sess.Clone()
	images := make(map[string]string)
	thumbs := make(map[string]string, len(meta.Steps))

	for _, st := range newestFirst(meta.Steps)[:min(s.retention, len(meta.Steps))] {
		if st.Screenshot != "" {
			images[st.ID] = st.Screenshot
		}
	}
	for i := range meta.Steps {
		if t := meta.Steps[i].Thumbnail; t != "" {
			thumbs[meta.Steps[i].ID] = t
		}
		meta.Steps[i].Screenshot = ""
		meta.Steps[i].Thumbnail = ""
	}

	records := []struct {
		key string
		v   any
	}{
		{KeySession, meta},
		{KeyImages, images},
		{KeyThumbnails, thumbs},
	}
	for _, r := range records {
		data, err := json.Marshal(r.v)
		if err != nil {
			return fmt.Errorf("persist: marshal %s: %w", r.key, err)
		}
		if err := s.kv.Set(ctx, r.key, data); err != nil {
			return err
		}
	}
	return nil
}

// newestFirst returns steps ordered by creation time, most recent first.
func newestFirst(steps []session.Step) []session.Step {
	out := append([]session.Step(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Restore reassembles the stored session. It returns nil, nil when no
// session is stored. Missing image maps are treated as empty.
func (s *Snapshotter) Restore(ctx context.Context) (*session.CaptureSession, error) {
	data, err := s.kv.Get(ctx, KeySession)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess session.CaptureSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("persist: parse %s: %w", KeySession, err)
	}

	images, err := s.loadMap(ctx, KeyImages)
	if err != nil {
		return nil, err
	}
	thumbs, err := s.loadMap(ctx, KeyThumbnails)
	if err != nil {
		return nil, err
	}
	for i := range sess.Steps {
		st := &sess.Steps[i]
		st.Screenshot = images[st.ID]
		if t, ok := thumbs[st.ID]; ok {
			st.Thumbnail = t
		}
	}
	if sess.Steps == nil {
		sess.Steps = []session.Step{}
	}
	return &sess, nil
}

func (s *Snapshotter) loadMap(ctx context.Context, key string) (map[string]string, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("persist: parse %s: %w", key, err)
	}
	return m, nil
}

// Purge removes all three records.
func (s *Snapshotter) Purge(ctx context.Context) error {
	return s.kv.Remove(ctx, allKeys...)
}

// Sweep purges the stored session if it was last updated more than maxAge
// ago, or if its metadata is unreadable. It reports whether anything was
// removed.
func (s *Snapshotter) Sweep(ctx context.Context, maxAge time.Duration) (bool, error) {
	data, err := s.kv.Get(ctx, KeySession)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var meta struct {
		UpdatedAt time.Time `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &meta); err == nil && s.now().Sub(meta.UpdatedAt) <= maxAge {
		return false, nil
	}
	if err := s.Purge(ctx); err != nil {
		return false, err
	}
	return true, nil
}
