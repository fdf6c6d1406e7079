package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestMatchSegment(t *testing.T) {
	tests := []struct {
		seg, frag string
		want      bool
	}{
		{"detectiveqa", "detectiveqa", true},
		{"detectiveqa-1.json", "detectiveqa", true},
		{"detectiveqa_v2", "detectiveqa", true},
		{"detectiveqa.json", "detectiveqa", true},
		{"detectiveqa", "qa", false},
		{"detectiveqa2", "detectiveqa", false},
		{"booookscore", "detectiveqa", false},
		{"", "detectiveqa", false},
		{"detectiveqa", "", false},
	}
	for _, tt := range tests {
		if got := MatchSegment(tt.seg, tt.frag); got != tt.want {
			t.Errorf("MatchSegment(%q, %q) = %v, want %v", tt.seg, tt.frag, got, tt.want)
		}
	}
}

func TestPathProtected(t *testing.T) {
	fragments := []string{"detectiveqa", "booookscore"}
	tests := []struct {
		path string
		want bool
	}{
		// data tree rules
		{"/data/outputs/chunks/detectiveqa/c1.json", true},
		{"/data/outputs/summaries/booookscore-v2/s.json", true},
		{"/data/outputs/chunks/other/c1.json", false},
		{"/data/outputs/other/detectiveqa/c1.json", false},
		// prompts rule
		{"/data/prompts/detectiveqa/extract.txt", true},
		{"/prompts/booookscore/p.txt", true},
		{"/prompts/other/p.txt", false},
		{"/detectiveqa/prompts/x", true}, // first-segment rule
		// api rules
		{"/api/content/outputs/chunks/detectiveqa/c1.json", true},
		{"/api/files/outputs/summaries/booookscore/s1.json", true},
		{"/api/files", false}, // listing always exempt
		{"/api/content/outputs/chunks/other/c1.json", false},
		// first segment
		{"/detectiveqa", true},
		{"/detectiveqa-export/report.html", true},
		{"/dashboard", false},
		{"/", false},
		// no substring leakage
		{"/api/content/notdetectiveqa/x.json", false},
	}
	for _, tt := range tests {
		if got := PathProtected(tt.path, fragments); got != tt.want {
			t.Errorf("PathProtected(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRelProtected(t *testing.T) {
	fragments := []string{"detectiveqa"}
	if !RelProtected("outputs/chunks/detectiveqa/c1.json", fragments) {
		t.Error("protected path not detected")
	}
	if RelProtected("outputs/chunks/open/c1.json", fragments) {
		t.Error("open path flagged as protected")
	}
}

func newTestProxy(t *testing.T) (*httptest.Server, *httptest.Server) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "upstream:"+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	p, err := New(upstream.URL, []string{"detectiveqa"}, "researcher", string(hash))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	front := httptest.NewServer(p)
	t.Cleanup(front.Close)
	return front, upstream
}

func TestProxyForwardsOpenPaths(t *testing.T) {
	front, _ := newTestProxy(t)
	resp, err := http.Get(front.URL + "/api/files")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "upstream:/api/files" {
		t.Errorf("got %d %q", resp.StatusCode, b)
	}
}

func TestProxyChallengesProtectedPaths(t *testing.T) {
	front, _ := newTestProxy(t)
	resp, err := http.Get(front.URL + "/data/outputs/chunks/detectiveqa/c1.json")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="ius-dashboard"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestProxyAcceptsValidCredentials(t *testing.T) {
	front, _ := newTestProxy(t)
	req, _ := http.NewRequest(http.MethodGet, front.URL+"/data/outputs/chunks/detectiveqa/c1.json", nil)
	req.SetBasicAuth("researcher", "sekrit")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestProxyRejectsBadCredentials(t *testing.T) {
	front, _ := newTestProxy(t)
	for _, cred := range [][2]string{
		{"researcher", "wrong"},
		{"intruder", "sekrit"},
	} {
		req, _ := http.NewRequest(http.MethodGet, front.URL+"/detectiveqa", nil)
		req.SetBasicAuth(cred[0], cred[1])
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("creds %v: status = %d, want 401", cred, resp.StatusCode)
		}
	}
}
