// Package testfixtures provides in-memory stand-ins for the object store and the
// face-recognition service, shared by package tests.
package testfixtures

import (
	"context"
	"errors"
	"sync"

	"geoattend/internal/cloudinary"
	"geoattend/internal/faceclient"
)

// ObjectStore keeps uploaded objects in memory.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	PutError error
	GetError error
	Puts     []string
	Gets     int
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

// Seed stores data under key without counting a Put.
func (s *ObjectStore) Seed(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

// Object returns the bytes stored under key.
func (s *ObjectStore) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

// Put stores data under key.
func (s *ObjectStore) Put(ctx context.Context, data []byte, key string) (*cloudinary.UploadResult, error) {
	if s.PutError != nil {
		return nil, s.PutError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.Puts = append(s.Puts, key)
	return &cloudinary.UploadResult{PublicID: key, SecureURL: "https://cdn.test/" + key, Bytes: len(data)}, nil
}

// Get returns the object or cloudinary.ErrNotFound.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.Gets++
	s.mu.Unlock()
	if s.GetError != nil {
		return nil, s.GetError
	}
	data, ok := s.Object(key)
	if !ok {
		return nil, cloudinary.ErrNotFound
	}
	return data, nil
}

// Faces is a scripted recognition service. Images are matched by their exact bytes.
type Faces struct {
	mu sync.Mutex

	// Detected is returned by DetectFaces.
	Detected []faceclient.DetectedFace
	// Search maps a probe image to its candidates. SearchFunc, when set, wins.
	Search     map[string][]faceclient.SearchMatch
	SearchFunc func(img []byte) []faceclient.SearchMatch
	// Similarity maps a target image to the similarity it scores against any reference.
	Similarity map[string]float64
	// DefaultSimilarity is used for targets missing from Similarity.
	DefaultSimilarity float64

	DetectError  error
	SearchError  error
	CompareError error

	DetectCalls  int
	SearchCalls  int
	CompareCalls int
}

// NewFaces creates an empty scripted service.
func NewFaces() *Faces {
	return &Faces{
		Search:     make(map[string][]faceclient.SearchMatch),
		Similarity: make(map[string]float64),
	}
}

// DetectFaces implements the detection capability.
func (f *Faces) DetectFaces(ctx context.Context, img []byte) ([]faceclient.DetectedFace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DetectCalls++
	if f.DetectError != nil {
		return nil, f.DetectError
	}
	return f.Detected, nil
}

// SearchFaces implements the search capability.
func (f *Faces) SearchFaces(ctx context.Context, img []byte, maxFaces int, threshold float64) ([]faceclient.SearchMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchCalls++
	if f.SearchError != nil {
		return nil, f.SearchError
	}
	var all []faceclient.SearchMatch
	if f.SearchFunc != nil {
		all = f.SearchFunc(img)
	} else {
		all = f.Search[string(img)]
	}
	var out []faceclient.SearchMatch
	for _, m := range all {
		if m.Similarity >= threshold {
			out = append(out, m)
		}
	}
	if maxFaces > 0 && len(out) > maxFaces {
		out = out[:maxFaces]
	}
	return out, nil
}

// CompareFaces implements the compare capability.
func (f *Faces) CompareFaces(ctx context.Context, source, target []byte, threshold float64) (*faceclient.CompareResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CompareCalls++
	if f.CompareError != nil {
		return nil, f.CompareError
	}
	sim, ok := f.Similarity[string(target)]
	if !ok {
		sim = f.DefaultSimilarity
	}
	if sim < threshold {
		return &faceclient.CompareResult{Similarity: sim, Unmatched: 1}, nil
	}
	return &faceclient.CompareResult{Similarity: sim, Matched: true}, nil
}

// ErrUpstream is a stand-in transport failure.
var ErrUpstream = errors.New("upstream unavailable")
