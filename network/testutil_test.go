package network

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"chatsync/chat"
	"chatsync/live"
	"chatsync/storage"

	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) *chat.Service {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	logger := zaptest.NewLogger(t)
	hub := live.NewHub(logger, live.Options{})
	t.Cleanup(func() {
		hub.Close()
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return chat.NewService(store, hub, logger, chat.Options{TypingRefresh: 20 * time.Millisecond})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(newTestService(t), zaptest.NewLogger(t), Options{})
}

func doJSON(t *testing.T, server *Server, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := server.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp.StatusCode, raw
}

func decodeInto(t *testing.T, raw []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode response %q: %v", raw, err)
	}
}
