package whttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendHTTPRequestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("X-Test") != "1" {
			t.Errorf("custom header not sent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><head><title>\n Messier objects </title></head><body></body></html>"))
	}))
	defer srv.Close()

	c, err := NewClient(3, 5*time.Second, "")
	if err != nil {
		t.Fatal(err)
	}
	c.retry.RetryWaitMin = time.Millisecond
	c.retry.RetryWaitMax = 5 * time.Millisecond

	res, err := c.SendHTTPRequest(context.Background(), &WHTTPReq{URL: srv.URL, Headers: []WHTTPHeader{{Name: "X-Test", Value: "1"}}})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.HTTPTitle != "Messier objects" {
		t.Fatalf("unexpected title %q", res.HTTPTitle)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestNewClientRejectsBadProxy(t *testing.T) {
	if _, err := NewClient(1, time.Second, "://bad"); err == nil {
		t.Fatal("expected error for malformed proxy")
	}
}
