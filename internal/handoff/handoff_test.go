package handoff

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whiskeygoggles/goggles/internal/testsupport"
)

func TestHTTPSinkPostsDataURLAndUniqueName(t *testing.T) {
	img := testsupport.SolidPNG(t, 2, 2, color.NRGBA{R: 10, A: 255})

	var got payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(server.Close)

	sink := NewHTTPSink(server.URL+"/classify", server.Client(), 0)
	require.NoError(t, sink.Submit(context.Background(), Selection{UniqueName: "A_750ml", Image: img}))

	assert.Equal(t, "A_750ml", got.Whiskey)
	require.True(t, strings.HasPrefix(got.Image, "data:image/png;base64,"), got.Image)
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got.Image, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, img, decoded)
}

func TestHTTPSinkRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "whiskey does not exist", http.StatusUnprocessableEntity)
	}))
	t.Cleanup(server.Close)

	sink := NewHTTPSink(server.URL, server.Client(), 0)
	err := sink.Submit(context.Background(), Selection{UniqueName: "Nope_1L", Image: []byte{0xff, 0xd8, 0xff}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "whiskey does not exist")
}

func TestHTTPSinkValidatesSelection(t *testing.T) {
	sink := NewHTTPSink("http://127.0.0.1:0", nil, 0)
	assert.Error(t, sink.Submit(context.Background(), Selection{Image: []byte{1}}))
	assert.Error(t, sink.Submit(context.Background(), Selection{UniqueName: "A_750ml"}))
}

func TestDiscardAcceptsEverything(t *testing.T) {
	assert.NoError(t, Discard.Submit(context.Background(), Selection{}))
}
