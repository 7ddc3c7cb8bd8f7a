package link

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// localHostRequest builds a request that passes tsweb's loopback check.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAdminRoutesConsole(t *testing.T) {
	b, _ := startBridge(t, nil)
	mux := http.NewServeMux()
	b.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/radio", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "radio bridge")
}

func TestAdminRoutesSendCommandAPI(t *testing.T) {
	b, port := startBridge(t, nil)
	mux := http.NewServeMux()
	b.AttachAdminRoutes(mux)

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
	}{
		{"valid", http.MethodPost, url.Values{"command": {"@E7E7E7E711 stop"}}, http.StatusOK},
		{"empty", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
		{"unaddressed", http.MethodPost, url.Values{"command": {"stop"}}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := localHostRequest(tt.method, "/debug/send-command-api", body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, []string{"@E7E7E7E711 stop"}, port.Written())
}

func TestAdminRoutesSendCommandAPIWriteFailure(t *testing.T) {
	b, port := startBridge(t, nil)
	port.WriteError = io.ErrShortWrite
	mux := http.NewServeMux()
	b.AttachAdminRoutes(mux)

	form := url.Values{"command": {"@E7 stop"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminRoutesRejectRemote(t *testing.T) {
	b, _ := startBridge(t, nil)
	mux := http.NewServeMux()
	b.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/radio", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestAdminRoutesTail(t *testing.T) {
	b, port := startBridge(t, nil)
	mux := http.NewServeMux()
	b.AttachAdminRoutes(mux)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.RemoteAddr = "127.0.0.1:12345"
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	assert.Contains(t, string(buf[:n]), ": ping")

	port.Inject("@E7E7E7E711 connected")
	var got strings.Builder
	for !strings.Contains(got.String(), "data: @E7E7E7E711 connected") {
		n, err := resp.Body.Read(buf)
		if err != nil {
			t.Fatalf("reading tail: %v (got %q)", err, got.String())
		}
		got.Write(buf[:n])
	}
}
