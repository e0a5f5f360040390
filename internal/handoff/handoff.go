// Package handoff delivers a confirmed selection (photo plus chosen whiskey)
// to the system that persists it.
package handoff

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Selection is the pair emitted when the user confirms a candidate.
type Selection struct {
	UniqueName string
	Image      []byte
}

// Sink persists selections.
type Sink interface {
	Submit(ctx context.Context, sel Selection) error
}

// Discard accepts every selection and drops it.
var Discard Sink = discard{}

type discard struct{}

func (discard) Submit(context.Context, Selection) error { return nil }

// DataURL encodes image as a base64 data URL with its detected media type.
func DataURL(image []byte) string {
	mime := mimetype.Detect(image).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

type payload struct {
	Image   string `json:"image"`
	Whiskey string `json:"whiskey"`
}

// HTTPSink posts selections as JSON {"image": <data URL>, "whiskey": <unique name>}.
type HTTPSink struct {
	url    string
	client *http.Client
}

func NewHTTPSink(url string, client *http.Client, timeout time.Duration) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSink{url: url, client: client}
}

func (s *HTTPSink) Submit(ctx context.Context, sel Selection) error {
	if strings.TrimSpace(sel.UniqueName) == "" {
		return errors.New("handoff: empty unique name")
	}
	if len(sel.Image) == 0 {
		return errors.New("handoff: empty image")
	}
	body, err := json.Marshal(payload{Image: DataURL(sel.Image), Whiskey: sel.UniqueName})
	if err != nil {
		return fmt.Errorf("handoff: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("handoff: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("handoff: post %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("handoff: post %s: status %d: %s", s.url, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
