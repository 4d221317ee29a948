package capture

// Set is an ordered, bounded sequence of captured images. Elements are only
// ever added at and removed from the tail.
type Set struct {
	max    int
	images []Image
}

// NewSet returns an empty set holding at most max images.
func NewSet(max int) *Set {
	if max < 1 {
		max = 1
	}
	return &Set{max: max, images: make([]Image, 0, max)}
}

// Append adds img and reports whether it was stored. It is a no-op once the
// set is full.
func (s *Set) Append(img Image) bool {
	if len(s.images) >= s.max {
		return false
	}
	s.images = append(s.images, img)
	return true
}

// RemoveLast drops the tail element. It is a no-op on an empty set.
func (s *Set) RemoveLast() (Image, bool) {
	if len(s.images) == 0 {
		return Image{}, false
	}
	last := s.images[len(s.images)-1]
	s.images = s.images[:len(s.images)-1]
	return last, true
}

// Reset empties the set.
func (s *Set) Reset() {
	s.images = s.images[:0]
}

func (s *Set) Len() int   { return len(s.images) }
func (s *Set) Max() int   { return s.max }
func (s *Set) Full() bool { return len(s.images) >= s.max }

// Images returns a copy of the current contents.
func (s *Set) Images() []Image {
	out := make([]Image, len(s.images))
	copy(out, s.images)
	return out
}
