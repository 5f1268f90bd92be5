// Package testutil holds helpers shared by fetch-layer tests.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// NewVCRRecorder replays testdata/fixtures/<cassetteName>.yaml. With VCR_MODE=record
// it records through real instead (http.DefaultTransport when nil).
func NewVCRRecorder(t *testing.T, cassetteName string, real http.RoundTripper) *recorder.Recorder {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	cassettePath := filepath.Join("testdata", "fixtures", cassetteName)

	r, err := recorder.NewAsMode(cassettePath, mode, real)
	if err != nil {
		t.Fatalf("Failed to create VCR recorder: %v", err)
	}

	// Upstream identity is the method and full URL; the Host header must agree with it.
	r.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		if r.Method != i.Method || r.URL.String() != i.URL {
			return false
		}
		return r.Host == "" || r.Host == r.URL.Host
	})

	// Recorded headers may carry cookies from real origins.
	r.AddFilter(func(i *cassette.Interaction) error {
		delete(i.Request.Headers, "Cookie")
		delete(i.Response.Headers, "Set-Cookie")
		return nil
	})

	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("Failed to stop VCR recorder: %v", err)
		}
	})

	return r
}
