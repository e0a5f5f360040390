package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// AssetServer serves the three asset endpoints from memory. Status overrides
// and chunked (length-less) responses can be set per file name, and every
// request is counted.
type AssetServer struct {
	*httptest.Server

	mu      sync.Mutex
	bodies  map[string][]byte
	status  map[string]int
	chunked map[string]bool
	hits    map[string]int
}

// DefaultModel is an opaque stand-in for model weights.
var DefaultModel = []byte("onnx-model-weights")

// NewAssetServer starts a server with the given labels and mean/std and a
// placeholder model body.
func NewAssetServer(t testing.TB, labels []string, mean, std [3]float64) *AssetServer {
	t.Helper()

	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		t.Fatalf("marshal labels: %v", err)
	}
	meanStdJSON, err := json.Marshal(map[string][]float64{"mean": mean[:], "std": std[:]})
	if err != nil {
		t.Fatalf("marshal mean_std: %v", err)
	}

	s := &AssetServer{
		bodies: map[string][]byte{
			"model.onnx":    DefaultModel,
			"labels.json":   labelsJSON,
			"mean_std.json": meanStdJSON,
		},
		status:  map[string]int{},
		chunked: map[string]bool{},
		hits:    map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *AssetServer) serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/onnx/")

	s.mu.Lock()
	s.hits[name]++
	body, ok := s.bodies[name]
	status := s.status[name]
	chunked := s.chunked[name]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if status != 0 && status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if chunked {
		// Flushing before the body is written forces chunked encoding, so the
		// client cannot learn the length up front.
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		_, _ = w.Write(body)
		return
	}
	_, _ = w.Write(body)
}

// SetStatus makes the server answer fileName with status.
func (s *AssetServer) SetStatus(fileName string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[fileName] = status
}

// SetBody replaces the body served for fileName.
func (s *AssetServer) SetBody(fileName string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[fileName] = body
}

// SetChunked makes the server omit Content-Length for fileName.
func (s *AssetServer) SetChunked(fileName string, chunked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunked[fileName] = chunked
}

// Hits returns how many requests fileName received.
func (s *AssetServer) Hits(fileName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[fileName]
}
