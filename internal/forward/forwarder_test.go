package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/matst80/burrow/internal/proto"
)

func targetFor(t *testing.T, srv *httptest.Server) Target {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return Target{Host: u.Hostname(), Port: port}
}

func decodeErrorBody(t *testing.T, resp *proto.Response) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("error body not JSON: %v (%s)", err, resp.Body)
	}
	return body
}

func TestForwardEchoesBodyAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	req := &proto.Request{RequestID: "r1", Method: "POST", Path: "/echo", Body: []byte("hello")}
	resp := New(0).Forward(context.Background(), targetFor(t, srv), req)

	if resp.RequestID != "r1" {
		t.Errorf("requestId = %q, want r1", resp.RequestID)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("body = %q, want hello", resp.Body)
	}
}

func TestForwardStripsHopByHopAndSetsHost(t *testing.T) {
	var gotHost string
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotHeaders = r.Header.Clone()
	}))
	defer srv.Close()
	target := targetFor(t, srv)

	req := &proto.Request{RequestID: "r2", Method: "GET", Path: "/"}
	req.Headers.Set("CONNECTION", "keep-alive")
	req.Headers.Set("Keep-Alive", "timeout=5")
	req.Headers.Set("transfer-encoding", "chunked")
	req.Headers.Set("Upgrade", "websocket")
	req.Headers.Set("Proxy-Connection", "keep-alive")
	req.Headers.Set("te", "trailers")
	req.Headers.Set("TRAILERS", "X-Sum")
	req.Headers.Set("Host", "public.example.dev")
	req.Headers.Set("X-Wanted", "yes")

	resp := New(0).Forward(context.Background(), target, req)
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	for _, name := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Proxy-Connection", "Te", "Trailers"} {
		if v := gotHeaders.Get(name); v != "" {
			t.Errorf("hop-by-hop header %s leaked through: %q", name, v)
		}
	}
	if gotHeaders.Get("X-Wanted") != "yes" {
		t.Errorf("end-to-end header lost: %v", gotHeaders)
	}
	if gotHost != target.Addr() {
		t.Errorf("host = %q, want %q", gotHost, target.Addr())
	}
}

func TestForwardUnreachableTargetIs502(t *testing.T) {
	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	target := Target{Host: "127.0.0.1", Port: port}

	req := &proto.Request{RequestID: "r3", Method: "GET", Path: "/"}
	resp := New(0).Forward(context.Background(), target, req)

	if resp.Status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.Status)
	}
	if resp.RequestID != "r3" {
		t.Errorf("requestId = %q, want r3", resp.RequestID)
	}
	body := decodeErrorBody(t, resp)
	if !strings.Contains(body["message"], target.Addr()) {
		t.Errorf("502 body %q does not name target %s", body["message"], target.Addr())
	}
}

func TestForwardTimeoutIs504(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	req := &proto.Request{RequestID: "r4", Method: "GET", Path: "/slow"}
	resp := New(150*time.Millisecond).Forward(context.Background(), targetFor(t, srv), req)

	if resp.Status != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.Status)
	}
	body := decodeErrorBody(t, resp)
	if body["error"] != "gateway_timeout" {
		t.Errorf("error code = %q, want gateway_timeout", body["error"])
	}
}

func TestForwardMidTransferErrorIs502(t *testing.T) {
	// Raw listener that promises more body than it delivers, then closes.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\npartial")
		_ = conn.Close()
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	req := &proto.Request{RequestID: "r5", Method: "GET", Path: "/"}
	resp := New(0).Forward(context.Background(), Target{Host: "127.0.0.1", Port: port}, req)

	if resp.Status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.Status)
	}
	body := decodeErrorBody(t, resp)
	if body["error"] != "local_error" {
		t.Errorf("error code = %q, want local_error", body["error"])
	}
}

func TestForwardDefaultPathAndContentLength(t *testing.T) {
	var gotLen int64
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	req := &proto.Request{RequestID: "r6", Method: "POST", Body: []byte("12345")}
	resp := New(0).Forward(context.Background(), targetFor(t, srv), req)
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if gotLen != 5 {
		t.Errorf("content-length = %d, want 5", gotLen)
	}
	if gotPath != "/" {
		t.Errorf("empty path should default to /, got %q", gotPath)
	}
}
