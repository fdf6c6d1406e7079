package uploader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juand-r/ius-dashboard/internal/retry"
)

func TestUploadSendsEnvelope(t *testing.T) {
	var gotPath, gotCollection, gotTimestamp, gotContent string
	var gotAuth bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotPath = r.FormValue("path")
		gotCollection = r.FormValue("collection")
		gotTimestamp = r.FormValue("timestamp")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		b, _ := io.ReadAll(f)
		gotContent = string(b)
		_, _, gotAuth = r.BasicAuth()
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success", "path": gotPath, "size": len(b),
			"collection": gotCollection, "timestamp": gotTimestamp,
		})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	resp, err := c.Upload(context.Background(),
		"outputs/chunks/open/c1.json", strings.NewReader(`{"a":1}`),
		"open", "2026-08-29T10:00:00Z")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if resp.Status != "success" || resp.Path != "outputs/chunks/open/c1.json" {
		t.Errorf("response = %+v", resp)
	}
	if gotPath != "outputs/chunks/open/c1.json" || gotCollection != "open" ||
		gotTimestamp != "2026-08-29T10:00:00Z" || gotContent != `{"a":1}` {
		t.Errorf("envelope = %q %q %q %q", gotPath, gotCollection, gotTimestamp, gotContent)
	}
	if gotAuth {
		t.Error("credentials attached to an unprotected path")
	}
}

func TestUploadAttachesAuthForProtectedPaths(t *testing.T) {
	var user, pass string
	var gotAuth bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, gotAuth = r.BasicAuth()
		json.NewEncoder(w).Encode(map[string]any{"status": "success"})
	}))
	defer ts.Close()

	c := New(Config{
		BaseURL:            ts.URL,
		Username:           "researcher",
		Password:           "sekrit",
		ProtectedFragments: []string{"detectiveqa"},
	})
	_, err := c.Upload(context.Background(),
		"outputs/chunks/detectiveqa/c1.json", strings.NewReader("{}"), "detectiveqa", "")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !gotAuth || user != "researcher" || pass != "sekrit" {
		t.Errorf("auth = %v %q %q", gotAuth, user, pass)
	}
}

func TestUploadSingleAttempt(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	if _, err := c.Upload(context.Background(), "a.json", strings.NewReader("{}"), "c", ""); err == nil {
		t.Fatal("Upload succeeded, want error")
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
	if c.IsOnline() {
		t.Error("client still online after server error")
	}
}

func TestListRemoteFlattens(t *testing.T) {
	tree := map[string]any{
		"name": "data", "type": "directory", "path": "",
		"children": []any{
			map[string]any{
				"name": "prompts", "type": "directory", "path": "prompts",
				"children": []any{
					map[string]any{"name": "p.txt", "type": "file", "path": "prompts/p.txt", "size": 3},
				},
			},
			map[string]any{"name": "top.json", "type": "file", "path": "top.json", "size": 2},
		},
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tree)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	set, err := c.ListRemote(context.Background())
	if err != nil {
		t.Fatalf("ListRemote: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("set = %v", set)
	}
	for _, p := range []string{"prompts/p.txt", "top.json"} {
		if _, ok := set[p]; !ok {
			t.Errorf("missing %q in %v", p, set)
		}
	}
}

func TestListRemoteRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"name": "data", "type": "directory", "path": ""})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, RetryConfig: quickRetry()})
	if _, err := c.ListRemote(context.Background()); err != nil {
		t.Fatalf("ListRemote: %v", err)
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	if err := c.Delete(context.Background(), "gone.json"); err != nil {
		t.Errorf("Delete = %v, want nil", err)
	}
}

func TestDeleteEscapesAwkwardFileNames(t *testing.T) {
	var gotPath, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	if err := c.Delete(context.Background(), "outputs/what?.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if gotPath != "/api/files/outputs/what?.json" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "" {
		t.Errorf("query = %q, want empty; the file name leaked into the query string", gotQuery)
	}

	if err := c.Delete(context.Background(), "prompts/v#2/p 1.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if gotPath != "/api/files/prompts/v#2/p 1.txt" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestPing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !c.IsOnline() {
		t.Error("client offline after successful ping")
	}
}

func quickRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2.0,
	}
}
