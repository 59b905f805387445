package proto

import (
	"encoding/json"

	"github.com/matst80/burrow/internal/httpx"
)

// Frame type tags carried in the "type" field of every wire message.
const (
	TypeRegistered = "registered"
	TypeError      = "error"
	TypeRequest    = "request"
	TypeResponse   = "response"
)

// Message is one decoded control-channel frame: *Registered, *ErrorMsg,
// *Request or *Response.
type Message interface {
	frameType() string
}

// Registered is sent by the relay once a public name has been allocated.
type Registered struct {
	Subdomain string `json:"subdomain"`
	URL       string `json:"url"`
}

// ErrorMsg is a fatal rejection from the relay; the session never retries
// after receiving one.
type ErrorMsg struct {
	Message string `json:"message"`
}

// Request is an inbound proxied HTTP request. Body travels base64-encoded on
// the wire (JSON []byte).
type Request struct {
	RequestID string          `json:"requestId"`
	Method    string          `json:"method"`
	Path      string          `json:"path"`
	Headers   httpx.HeaderMap `json:"headers"`
	Body      []byte          `json:"body"`
}

// Response answers exactly one Request, correlated by RequestID.
type Response struct {
	RequestID string          `json:"requestId"`
	Status    int             `json:"status"`
	Headers   httpx.HeaderMap `json:"headers"`
	Body      []byte          `json:"body"`
}

func (*Registered) frameType() string { return TypeRegistered }
func (*ErrorMsg) frameType() string   { return TypeError }
func (*Request) frameType() string    { return TypeRequest }
func (*Response) frameType() string   { return TypeResponse }

// envelope is the wire shape: the tag plus the union of all frame fields.
type envelope struct {
	Type      string          `json:"type"`
	Subdomain string          `json:"subdomain,omitempty"`
	URL       string          `json:"url,omitempty"`
	Message   string          `json:"message,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Path      string          `json:"path,omitempty"`
	Headers   httpx.HeaderMap `json:"headers,omitempty"`
	Status    int             `json:"status,omitempty"`
	Body      []byte          `json:"body,omitempty"`
}

// Decode parses one transport frame. ok is false for anything that is not
// structurally one of the known frame types; such frames are dropped by the
// caller, never surfaced.
func Decode(data []byte) (Message, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	switch env.Type {
	case TypeRegistered:
		if env.URL == "" {
			return nil, false
		}
		return &Registered{Subdomain: env.Subdomain, URL: env.URL}, true
	case TypeError:
		return &ErrorMsg{Message: env.Message}, true
	case TypeRequest:
		if env.RequestID == "" || env.Method == "" {
			return nil, false
		}
		return &Request{
			RequestID: env.RequestID,
			Method:    env.Method,
			Path:      env.Path,
			Headers:   env.Headers,
			Body:      env.Body,
		}, true
	case TypeResponse:
		if env.RequestID == "" {
			return nil, false
		}
		return &Response{
			RequestID: env.RequestID,
			Status:    env.Status,
			Headers:   env.Headers,
			Body:      env.Body,
		}, true
	default:
		return nil, false
	}
}

// Encode serializes a fully-formed message to exact wire bytes.
func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.frameType()}
	switch v := m.(type) {
	case *Registered:
		env.Subdomain = v.Subdomain
		env.URL = v.URL
	case *ErrorMsg:
		env.Message = v.Message
	case *Request:
		env.RequestID = v.RequestID
		env.Method = v.Method
		env.Path = v.Path
		env.Headers = v.Headers
		env.Body = v.Body
	case *Response:
		env.RequestID = v.RequestID
		env.Status = v.Status
		env.Headers = v.Headers
		env.Body = v.Body
	}
	return json.Marshal(env)
}
