package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatsync/pkg/models"
)

func TestCreateMessage(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"srv1","ts":1700000000000}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "k1"})
	res, err := c.CreateMessage(context.Background(), models.Message{ID: "tmp1", Content: models.TextContent{Text: "hi"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.ID != "srv1" || res.TS != 1700000000000 {
		t.Fatalf("bad result: %+v", res)
	}
	if gotPath != "/v1/messages" {
		t.Fatalf("wrong path: %s", gotPath)
	}
	if gotAuth != "apikey k1" {
		t.Fatalf("wrong auth header: %q", gotAuth)
	}
}

func TestCreateMessageHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	_, err := c.CreateMessage(context.Background(), models.Message{ID: "tmp1"})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Status != http.StatusTooManyRequests || re.Op != "create" {
		t.Fatalf("bad remote error: %+v", re)
	}
}

func TestDeleteMessageEscapesID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	if err := c.DeleteMessage(context.Background(), "id/with slash"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotPath != "/v1/messages/id%2Fwith%20slash" {
		t.Fatalf("id not escaped: %s", gotPath)
	}
}

func TestFlush(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if gotPath != "/v1/messages/flush" || gotMethod != http.MethodPost {
		t.Fatalf("wrong request: %s %s", gotMethod, gotPath)
	}
}

func TestUploadBlobReportsProgress(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"blob_id":"b7"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	data := []byte("some image bytes")
	var lastSent, lastTotal int64
	res, err := c.UploadBlob(context.Background(), "tmp1", data, func(sent, total int64) {
		lastSent, lastTotal = sent, total
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.BlobID != "b7" {
		t.Fatalf("bad blob id: %s", res.BlobID)
	}
	if string(gotBody) != string(data) {
		t.Fatalf("body mangled: %q", gotBody)
	}
	if lastSent != int64(len(data)) || lastTotal != int64(len(data)) {
		t.Fatalf("progress never completed: sent=%d total=%d", lastSent, lastTotal)
	}
}

func TestUploadBlobSizeLimit(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:0", MaxUploadBytes: 4})
	_, err := c.UploadBlob(context.Background(), "tmp1", []byte("too big"), nil)
	if err == nil {
		t.Fatalf("oversized upload must be rejected before any request")
	}
}

func TestTransportErrorWraps(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1"})
	err := c.Flush(context.Background())
	var re *RemoteError
	if !errors.As(err, &re) || re.Status != 0 || re.Err == nil {
		t.Fatalf("transport failure shape wrong: %v", err)
	}
}
