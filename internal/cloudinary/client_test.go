package cloudinary

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSignIsSortedAndSkipsExcludedKeys(t *testing.T) {
	c := New("demo", "key", "secret", "", time.Second)
	a := c.sign(map[string]string{"timestamp": "1", "public_id": "x", "api_key": "key"})
	b := c.sign(map[string]string{"public_id": "x", "timestamp": "1"})
	if a != b {
		t.Errorf("api_key must not affect signature: %s vs %s", a, b)
	}
	if len(a) != 40 {
		t.Errorf("signature length = %d", len(a))
	}
}

func fakeCloudinary(t *testing.T, stored map[string][]byte, lookups *atomic.Int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/demo/image/upload":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse form: %v", err)
				return
			}
			if r.FormValue("signature") == "" || r.FormValue("overwrite") != "true" {
				t.Errorf("unsigned or non-overwriting upload: %v", r.MultipartForm.Value)
			}
			key := r.FormValue("public_id")
			f, _, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
				return
			}
			data, _ := io.ReadAll(f)
			stored[key] = data
			_ = json.NewEncoder(w).Encode(UploadResult{PublicID: key, SecureURL: srv.URL + "/raw/" + key, Bytes: len(data)})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/demo/resources/image/upload/"):
			if user, pass, ok := r.BasicAuth(); !ok || user != "key" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if lookups != nil {
				lookups.Add(1)
			}
			key := strings.TrimPrefix(r.URL.Path, "/demo/resources/image/upload/")
			if _, ok := stored[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":{"message":"Resource not found"}}`))
				return
			}
			_ = json.NewEncoder(w).Encode(UploadResult{PublicID: key, SecureURL: srv.URL + "/raw/" + key})
		case strings.HasPrefix(r.URL.Path, "/raw/"):
			_, _ = w.Write(stored[strings.TrimPrefix(r.URL.Path, "/raw/")])
		default:
			http.NotFound(w, r)
		}
	}))
	return srv
}

func TestPutGet(t *testing.T) {
	stored := map[string][]byte{}
	var lookups atomic.Int32
	srv := fakeCloudinary(t, stored, &lookups)
	defer srv.Close()

	c := New("demo", "key", "secret", "", time.Second)
	c.APIBase = srv.URL
	ctx := context.Background()

	res, err := c.Put(ctx, []byte("jpeg-bytes"), "attendance/rec-1/in")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.PublicID != "attendance/rec-1/in" {
		t.Errorf("public id = %s", res.PublicID)
	}

	data, err := c.Get(ctx, "attendance/rec-1/in")
	if err != nil || string(data) != "jpeg-bytes" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if n := lookups.Load(); n != 1 {
		t.Errorf("Get made %d admin lookups, want 1", n)
	}

	if _, err := c.Get(ctx, "faces/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
}

func TestResourceEscapesPublicID(t *testing.T) {
	key := "faces/emp 7?v=2"
	srv := fakeCloudinary(t, map[string][]byte{key: []byte("ref")}, nil)
	defer srv.Close()

	c := New("demo", "key", "secret", "", time.Second)
	c.APIBase = srv.URL
	res, err := c.Resource(context.Background(), key)
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if res.PublicID != key {
		t.Errorf("public id = %q, want %q", res.PublicID, key)
	}
}

func TestUploadErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "", time.Second)
	c.APIBase = srv.URL
	_, err := c.Put(context.Background(), []byte("x"), "k")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode() != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
}
