package session

// PrivacyFilter prepares a session for broadcast to observers. The zero
// value is a no-op filter.
type PrivacyFilter struct {
	MaskValues  bool // replace values typed into sensitive fields
	StripImages bool // drop full-resolution screenshots, keep thumbnails
}

// Apply returns a copy of the session with the configured masking applied.
// The original session is never modified.
func (f *PrivacyFilter) Apply(s *CaptureSession) *CaptureSession {
	masked := s.Clone()
	for i := range masked.Steps {
		st := &masked.Steps[i]
		if f.StripImages {
			st.Screenshot = ""
		}
		if f.MaskValues {
			st.Event = RedactEvent(st.Event)
		}
	}
	return masked
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskValues && !f.StripImages
}
