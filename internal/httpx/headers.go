package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Header is a single named header field with one or more values (name case
// preserved as seen on the wire).
type Header struct {
	Name   string
	Values []string
}

// HeaderMap is an ordered set of header fields. Order follows first
// appearance on the wire; JSON (un)marshalling preserves it, which a plain
// map[string]string cannot.
type HeaderMap []Header

// Get returns the first value associated with name (case-insensitive) or empty.
func (h HeaderMap) Get(name string) string {
	lname := strings.ToLower(name)
	for _, f := range h {
		if strings.ToLower(f.Name) == lname && len(f.Values) > 0 {
			return f.Values[0]
		}
	}
	return ""
}

// Values returns all values associated with name (case-insensitive).
func (h HeaderMap) Values(name string) []string {
	lname := strings.ToLower(name)
	for _, f := range h {
		if strings.ToLower(f.Name) == lname {
			return f.Values
		}
	}
	return nil
}

// Set replaces all values for name (case of Name preserved as provided).
func (h *HeaderMap) Set(name, value string) {
	lname := strings.ToLower(name)
	for i, f := range *h {
		if strings.ToLower(f.Name) == lname {
			(*h)[i].Values = []string{value}
			return
		}
	}
	*h = append(*h, Header{Name: name, Values: []string{value}})
}

// Add appends a value for name, keeping existing values.
func (h *HeaderMap) Add(name, value string) {
	lname := strings.ToLower(name)
	for i, f := range *h {
		if strings.ToLower(f.Name) == lname {
			(*h)[i].Values = append((*h)[i].Values, value)
			return
		}
	}
	*h = append(*h, Header{Name: name, Values: []string{value}})
}

// Del deletes all headers with given name (case-insensitive).
func (h *HeaderMap) Del(name string) {
	lname := strings.ToLower(name)
	out := (*h)[:0]
	for _, f := range *h {
		if strings.ToLower(f.Name) != lname {
			out = append(out, f)
		}
	}
	*h = out
}

// Clone returns a deep copy.
func (h HeaderMap) Clone() HeaderMap {
	if h == nil {
		return nil
	}
	out := make(HeaderMap, len(h))
	for i, f := range h {
		out[i] = Header{Name: f.Name, Values: append([]string(nil), f.Values...)}
	}
	return out
}

// hopByHop lists header fields meaningful only for a single transport leg.
var hopByHop = map[string]struct{}{
	"connection":        {},
	"keep-alive":        {},
	"transfer-encoding": {},
	"upgrade":           {},
	"proxy-connection":  {},
	"te":                {},
	"trailers":          {},
}

// IsHopByHop reports whether name is a hop-by-hop field (case-insensitive).
func IsHopByHop(name string) bool {
	_, ok := hopByHop[strings.ToLower(name)]
	return ok
}

// StripHopByHop returns a copy with all hop-by-hop fields removed.
func (h HeaderMap) StripHopByHop() HeaderMap {
	out := make(HeaderMap, 0, len(h))
	for _, f := range h {
		if IsHopByHop(f.Name) {
			continue
		}
		out = append(out, Header{Name: f.Name, Values: append([]string(nil), f.Values...)})
	}
	return out
}

// ToHTTP converts to a net/http header map.
func (h HeaderMap) ToHTTP() http.Header {
	out := make(http.Header, len(h))
	for _, f := range h {
		for _, v := range f.Values {
			out.Add(f.Name, v)
		}
	}
	return out
}

// FromHTTP converts a net/http header map, sorting keys for a deterministic
// order (http.Header iteration order is random).
func FromHTTP(src http.Header) HeaderMap {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(HeaderMap, 0, len(names))
	for _, name := range names {
		out = append(out, Header{Name: name, Values: append([]string(nil), src[name]...)})
	}
	return out
}

// MarshalJSON renders a JSON object in field order. Single-valued fields
// become strings, multi-valued fields become string arrays.
func (h HeaderMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		var val []byte
		if len(f.Values) == 1 {
			val, err = json.Marshal(f.Values[0])
		} else {
			val, err = json.Marshal(f.Values)
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object whose values are strings or string
// arrays, preserving key order. Any other value shape is an error so that a
// malformed frame fails decoding as a whole.
func (h *HeaderMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("headers: expected object, got %v", tok)
	}
	out := HeaderMap{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("headers: non-string key %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		trimmed := bytes.TrimSpace(raw)
		switch {
		case len(trimmed) > 0 && trimmed[0] == '"':
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return err
			}
			out.Add(key, s)
		case len(trimmed) > 0 && trimmed[0] == '[':
			var vs []string
			if err := json.Unmarshal(trimmed, &vs); err != nil {
				return err
			}
			for _, v := range vs {
				out.Add(key, v)
			}
		default:
			return fmt.Errorf("headers: value for %q is neither string nor string list", key)
		}
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return err
	}
	*h = out
	return nil
}
