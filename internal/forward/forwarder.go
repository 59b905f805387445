package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/matst80/burrow/internal/httpx"
	"github.com/matst80/burrow/internal/obs"
	"github.com/matst80/burrow/internal/proto"
)

// DefaultTimeout bounds a single local forward end to end.
const DefaultTimeout = 25 * time.Second

var log = obs.Component("forward")

// Target is the local service requests are forwarded to. TLS selects the
// outbound scheme explicitly; there is no scheme sniffing on Host.
type Target struct {
	Host string
	Port int
	TLS  bool
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) scheme() string {
	if t.TLS {
		return "https"
	}
	return "http"
}

// Forwarder issues a proxied request against a local target and maps every
// failure mode to a synthetic HTTP-style response.
type Forwarder struct {
	client  *http.Client
	timeout time.Duration
}

// New returns a Forwarder with the given per-request timeout; zero means
// DefaultTimeout.
func New(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Forwarder{
		// Timeout is enforced per request via context so the 504 can be
		// distinguished from other transport errors.
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Forward performs the outbound call and always returns a response carrying
// the request's id. It never returns an error: timeouts become 504, an
// unreachable target becomes 502 naming host:port, and a mid-transfer fault
// becomes a generic 502.
func (f *Forwarder) Forward(ctx context.Context, target Target, req *proto.Request) *proto.Response {
	start := time.Now()
	resp := f.forward(ctx, target, req)
	obs.ForwardDurationSeconds.Observe(time.Since(start).Seconds())
	return resp
}

func (f *Forwarder) forward(ctx context.Context, target Target, req *proto.Request) *proto.Response {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	path := req.Path
	if path == "" {
		path = "/"
	}
	out, err := http.NewRequestWithContext(reqCtx, req.Method, target.scheme()+"://"+target.Addr()+path, bytes.NewReader(req.Body))
	if err != nil {
		obs.ForwardsTotal.WithLabelValues("local_error").Inc()
		return errorResponse(req.RequestID, http.StatusBadGateway, "bad_request", fmt.Sprintf("cannot build request for %s: %v", target.Addr(), err))
	}
	out.Header = req.Headers.StripHopByHop().ToHTTP()
	// Host and Content-Length are carried by the request fields below; stale
	// values relayed from the public side must not leak through.
	out.Header.Del("Host")
	out.Header.Del("Content-Length")
	out.Host = target.Addr()
	out.ContentLength = int64(len(req.Body))

	res, err := f.client.Do(out)
	if err != nil {
		return f.mapTransportError(req.RequestID, target, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return f.mapTransportError(req.RequestID, target, context.DeadlineExceeded)
		}
		obs.ForwardsTotal.WithLabelValues("local_error").Inc()
		log.Error("forward.body", obs.Fields{"requestId": req.RequestID, "err": err.Error()})
		return errorResponse(req.RequestID, http.StatusBadGateway, "local_error", "error reading response from local service")
	}

	obs.ForwardsTotal.WithLabelValues("ok").Inc()
	return &proto.Response{
		RequestID: req.RequestID,
		Status:    res.StatusCode,
		Headers:   httpx.FromHTTP(res.Header),
		Body:      body,
	}
}

func (f *Forwarder) mapTransportError(requestID string, target Target, err error) *proto.Response {
	if errors.Is(err, context.DeadlineExceeded) {
		obs.ForwardsTotal.WithLabelValues("timeout").Inc()
		log.Error("forward.timeout", obs.Fields{"requestId": requestID, "target": target.Addr(), "timeout": f.timeout.String()})
		return errorResponse(requestID, http.StatusGatewayTimeout, "gateway_timeout",
			fmt.Sprintf("local service at %s did not respond within %s", target.Addr(), f.timeout))
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		obs.ForwardsTotal.WithLabelValues("unreachable").Inc()
		log.Error("forward.unreachable", obs.Fields{"requestId": requestID, "target": target.Addr(), "err": err.Error()})
		return errorResponse(requestID, http.StatusBadGateway, "bad_gateway",
			fmt.Sprintf("local service at %s is unreachable", target.Addr()))
	}

	obs.ForwardsTotal.WithLabelValues("local_error").Inc()
	log.Error("forward.error", obs.Fields{"requestId": requestID, "target": target.Addr(), "err": err.Error()})
	return errorResponse(requestID, http.StatusBadGateway, "local_error", "error talking to local service")
}

// errorResponse synthesizes a machine-parseable failure body, encoded the
// same way as normal bodies.
func errorResponse(requestID string, status int, code, message string) *proto.Response {
	body, _ := json.Marshal(map[string]string{"error": code, "message": message})
	return &proto.Response{
		RequestID: requestID,
		Status:    status,
		Headers:   httpx.HeaderMap{{Name: "Content-Type", Values: []string{"application/json"}}},
		Body:      body,
	}
}
