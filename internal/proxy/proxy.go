// Package proxy fronts the storage server and enforces Basic Auth for
// protected datasets.
package proxy

import (
	"crypto/subtle"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/juand-r/ius-dashboard/internal/logging"
	"github.com/juand-r/ius-dashboard/internal/metrics"
)

const realm = "ius-dashboard"

// MatchSegment reports whether a path segment belongs to the dataset named by
// fragment: the segment is the fragment itself or extends it with a separator
// ("-", "_" or "."). Bare substring containment is deliberately not enough, so
// a fragment "qa" does not capture "detectiveqa".
func MatchSegment(seg, fragment string) bool {
	if fragment == "" || seg == "" {
		return false
	}
	if seg == fragment {
		return true
	}
	return strings.HasPrefix(seg, fragment+"-") ||
		strings.HasPrefix(seg, fragment+"_") ||
		strings.HasPrefix(seg, fragment+".")
}

func splitSegments(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}

// PathProtected reports whether a request path requires credentials for any of
// the configured dataset fragments. The file listing endpoint is always
// exempt so clients can enumerate paths without credentials.
func PathProtected(urlPath string, fragments []string) bool {
	if urlPath == "/api/files" {
		return false
	}
	segs := splitSegments(urlPath)
	if len(segs) == 0 {
		return false
	}

	for _, frag := range fragments {
		// dataset directories under the mirrored data tree
		if len(segs) >= 4 && segs[0] == "data" && segs[1] == "outputs" &&
			(segs[2] == "chunks" || segs[2] == "summaries") && MatchSegment(segs[3], frag) {
			return true
		}
		// a prompts segment followed by a dataset segment
		for i, seg := range segs {
			if seg != "prompts" {
				continue
			}
			for _, later := range segs[i+1:] {
				if MatchSegment(later, frag) {
					return true
				}
			}
		}
		// API routes touching the dataset anywhere
		if segs[0] == "api" {
			for _, seg := range segs[1:] {
				if MatchSegment(seg, frag) {
					return true
				}
			}
		}
		// dataset-rooted dashboard routes
		if MatchSegment(segs[0], frag) {
			return true
		}
	}
	return false
}

// RelProtected reports whether a stored file path belongs to a protected
// dataset; clients use it to decide when to attach credentials.
func RelProtected(rel string, fragments []string) bool {
	for _, seg := range splitSegments(rel) {
		for _, frag := range fragments {
			if MatchSegment(seg, frag) {
				return true
			}
		}
	}
	return false
}

// Proxy is a transparent reverse proxy with per-path Basic Auth.
type Proxy struct {
	upstream     *httputil.ReverseProxy
	fragments    []string
	username     string
	passwordHash []byte
}

// New creates a proxy forwarding to upstreamURL.
func New(upstreamURL string, fragments []string, username, passwordHash string) (*Proxy, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		upstream:     httputil.NewSingleHostReverseProxy(u),
		fragments:    fragments,
		username:     username,
		passwordHash: []byte(passwordHash),
	}, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	protected := PathProtected(r.URL.Path, p.fragments)
	metrics.RecordProxyRequest(protected)

	if protected && !p.authorized(r) {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Info("auth denied",
			logging.String("path", r.URL.Path),
			logging.String("remote_addr", r.RemoteAddr),
		)
		w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if protected {
		metrics.RecordAuthAttempt(true)
	}

	p.upstream.ServeHTTP(w, r)
}

func (p *Proxy) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(p.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(p.passwordHash, []byte(pass)) == nil
	return userOK && passOK
}
