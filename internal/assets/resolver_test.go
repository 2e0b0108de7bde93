package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  []string
	presigns []string
	prefix   string
}

func newMemStore(prefix string) *memStore {
	return &memStore{objects: map[string][]byte{}, prefix: prefix}
}

func (m *memStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.uploads = append(m.uploads, key)
	return m.prefix + key, nil
}

func (m *memStore) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (m *memStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presigns = append(m.presigns, key)
	return m.prefix + key + "?signature=x", nil
}

func (m *memStore) KeyFromURL(raw string) (string, bool) {
	if !strings.HasPrefix(raw, m.prefix) {
		return "", false
	}
	return strings.TrimPrefix(raw, m.prefix), true
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.NRGBA{R: 255, A: 128})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestResolvePassesBytesThrough(t *testing.T) {
	r := NewResolver(newMemStore("https://private.example.com/"), zerolog.Nop(), Options{})
	data := pngBytes(t)
	res, err := r.Resolve(context.Background(), domain.MediaRef{Data: data})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !bytes.Equal(res.Data, data) || res.MIME != "image/png" || res.URL != "" {
		t.Fatalf("unexpected result: url=%q mime=%q", res.URL, res.MIME)
	}
}

func TestResolvePublicFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("public"))
	}))
	defer srv.Close()

	store := newMemStore("https://private.example.com/")
	r := NewResolver(store, zerolog.Nop(), Options{HTTPClient: srv.Client()})
	res, err := r.Resolve(context.Background(), domain.MediaRef{URL: srv.URL + "/a.png"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(res.Data) != "public" || res.Fallback || res.URL != srv.URL+"/a.png" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(store.presigns) != 0 {
		t.Fatal("storage must not be touched when the public fetch works")
	}
}

func TestResolveFallsBackToStorage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := newMemStore(srv.URL + "/bucket/")
	store.objects["gen/1.png"] = []byte("private")
	r := NewResolver(store, zerolog.Nop(), Options{HTTPClient: srv.Client()})

	res, err := r.Resolve(context.Background(), domain.MediaRef{URL: srv.URL + "/bucket/gen/1.png"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(res.Data) != "private" || !res.Fallback {
		t.Fatalf("expected storage fallback, got %+v", res)
	}
	if !strings.HasSuffix(res.URL, "gen/1.png?signature=x") {
		t.Fatalf("expected presigned url, got %q", res.URL)
	}
}

func TestResolveBothTiersFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newMemStore(srv.URL + "/bucket/")
	r := NewResolver(store, zerolog.Nop(), Options{HTTPClient: srv.Client()})
	_, err := r.Resolve(context.Background(), domain.MediaRef{URL: srv.URL + "/bucket/missing.png"})
	if domain.KindOf(err) != domain.KindAssetUnavailable {
		t.Fatalf("expected asset_unavailable, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected storage cause to be wrapped, got %v", err)
	}

	_, err = r.Resolve(context.Background(), domain.MediaRef{URL: srv.URL + "/elsewhere/x.png"})
	if domain.KindOf(err) != domain.KindAssetUnavailable {
		t.Fatalf("expected asset_unavailable for foreign url, got %v", err)
	}
}

func TestResolveAllUploadsInlineReferences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("remote"))
	}))
	defer srv.Close()

	store := newMemStore("https://cdn.example.com/")
	r := NewResolver(store, zerolog.Nop(), Options{HTTPClient: srv.Client()})
	refs := []domain.MediaRef{
		{Data: pngBytes(t), MIME: "image/png"},
		{URL: srv.URL + "/b.jpg"},
	}
	out, err := r.ResolveAll(context.Background(), "user-1", refs)
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if !strings.HasPrefix(out[0].URL, "https://cdn.example.com/uploads/user-1/") || !strings.HasSuffix(out[0].URL, ".png") {
		t.Fatalf("inline reference not uploaded: %q", out[0].URL)
	}
	if out[1].URL != srv.URL+"/b.jpg" || string(out[1].Data) != "remote" {
		t.Fatalf("order not preserved: %+v", out[1])
	}
	if len(store.uploads) != 1 {
		t.Fatalf("expected exactly one upload, got %d", len(store.uploads))
	}
}

func TestResolveAllStopsOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewResolver(newMemStore(srv.URL+"/bucket/"), zerolog.Nop(), Options{HTTPClient: srv.Client()})
	_, err := r.ResolveAll(context.Background(), "u", []domain.MediaRef{{Data: []byte("x")}, {URL: srv.URL + "/bucket/missing.png"}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOptimizeProducesJPEG(t *testing.T) {
	out, err := Optimize(pngBytes(t))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if http.DetectContentType(out) != "image/jpeg" {
		t.Fatalf("expected jpeg, got %s", http.DetectContentType(out))
	}
	if _, err := Optimize([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}
