package simulate

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// Image is one stored image with its detected format.
type Image struct {
	Data   []byte
	Format string // "png" or "jpeg"
}

// ImageStore holds images behind opaque handles, bounded FIFO: when
// full, the oldest entry is dropped. Process-local by design; a dropped
// or restarted process invalidates outstanding handles and the caller
// re-uploads.
type ImageStore struct {
	mu      sync.Mutex
	max     int
	order   *list.List // back = oldest
	entries map[string]*list.Element
}

type imageEntry struct {
	handle string
	img    Image
}

// NewImageStore creates a store bounded at max entries.
func NewImageStore(max int) *ImageStore {
	if max < 1 {
		max = 1
	}
	return &ImageStore{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Put stores an image and returns its handle.
func (s *ImageStore) Put(img Image) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.order.Len() >= s.max {
		if oldest := s.order.Back(); oldest != nil {
			e := s.order.Remove(oldest).(*imageEntry)
			delete(s.entries, e.handle)
		}
	}

	handle := uuid.NewString()
	s.entries[handle] = s.order.PushFront(&imageEntry{handle: handle, img: img})
	return handle
}

// Get returns the image for a handle.
func (s *ImageStore) Get(handle string) (Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[handle]
	if !ok {
		return Image{}, false
	}
	return elem.Value.(*imageEntry).img, true
}

// Delete drops a handle, if present.
func (s *ImageStore) Delete(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[handle]; ok {
		s.order.Remove(elem)
		delete(s.entries, handle)
	}
}

// Len returns the number of stored images.
func (s *ImageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
