package faceclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSearchFacesEnsuresCollectionOnce(t *testing.T) {
	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/collections":
			creates.Add(1)
			time.Sleep(20 * time.Millisecond)
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"collection_exists"}`))
		case "/search":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["collection_id"] != "staff" {
				t.Errorf("collection_id = %v", req["collection_id"])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"matches": []map[string]any{
				{"face_id": "f-low", "external_image_id": "emp-2", "similarity": 80.0},
				{"face_id": "f-1", "external_image_id": "emp-1", "similarity": 96.0},
				{"face_id": "f-3", "external_image_id": "emp-3", "similarity": 91.0},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "staff", time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.EnsureCollection(context.Background()); err != nil {
				t.Errorf("EnsureCollection: %v", err)
			}
		}()
	}
	wg.Wait()

	matches, err := c.SearchFaces(context.Background(), []byte("img"), 3, 90)
	if err != nil {
		t.Fatalf("SearchFaces: %v", err)
	}
	if n := creates.Load(); n != 1 {
		t.Errorf("collection created %d times, want 1", n)
	}
	if len(matches) != 2 || matches[0].FaceID != "f-1" || matches[1].FaceID != "f-3" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestEnsureCollectionRetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "staff", time.Second)
	if err := c.EnsureCollection(context.Background()); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if err := c.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if err := c.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("memoized attempt: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestServiceErrorPreservesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"collection_not_found","message":"no such collection"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "staff", time.Second)
	c.ready.Store(true)
	_, err := c.SearchFaces(context.Background(), []byte("img"), 3, 90)

	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ServiceError", err)
	}
	if se.StatusCode() != http.StatusNotFound || !se.ResourceNotFound() {
		t.Errorf("ServiceError = %+v", se)
	}
	if se.Message != "no such collection" {
		t.Errorf("message = %q", se.Message)
	}
}

func TestCompareFaces(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		threshold float64
		matched   bool
		sim       float64
	}{
		{"best of several", `{"matches":[{"similarity":92.1},{"similarity":97.4}]}`, 90, true, 97.4},
		{"no match", `{"matches":[],"unmatched":1}`, 90, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/compare" {
					t.Errorf("path = %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res, err := New(srv.URL, "staff", time.Second).CompareFaces(context.Background(), []byte("a"), []byte("b"), tt.threshold)
			if err != nil {
				t.Fatalf("CompareFaces: %v", err)
			}
			if res.Matched != tt.matched || res.Similarity != tt.sim {
				t.Errorf("CompareFaces = %+v", res)
			}
		})
	}
}

func TestDetectFacesKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces":[
			{"bounding_box":{"left":0.1,"top":0.2,"width":0.1,"height":0.2},"confidence":99.1},
			{"bounding_box":{"left":0.6,"top":0.2,"width":0.1,"height":0.2},"confidence":98.0}
		]}`))
	}))
	defer srv.Close()

	faces, err := New(srv.URL, "staff", time.Second).DetectFaces(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("DetectFaces: %v", err)
	}
	if len(faces) != 2 || faces[0].BoundingBox.Left != 0.1 || faces[1].BoundingBox.Left != 0.6 {
		t.Errorf("faces = %+v", faces)
	}
}

func TestCallsAreBoundedByTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := New(srv.URL, "staff", 50*time.Millisecond).DetectFaces(context.Background(), []byte("img"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
