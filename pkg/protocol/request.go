package protocol

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// BaseRequestOptions are fixed when a controller is constructed.
type BaseRequestOptions struct {
	BaseURL string
	Headers map[string]string
}

// RequestOptions describe one connect call.
type RequestOptions struct {
	// URL is relative to the base URL unless it carries a scheme.
	URL string
	// Method defaults to GET.
	Method  string
	Headers map[string]string
	// PathParams fill ":name" placeholders in URL.
	PathParams map[string]string
	// Data is sent JSON-encoded as the request body when non-nil.
	Data interface{}
	// Streaming selects the event-stream transport. nil means true.
	Streaming *bool
}

// Bool returns a pointer to b, for RequestOptions.Streaming.
func Bool(b bool) *bool {
	return &b
}

// ResolvedRequest is the fully qualified request a transport sends.
type ResolvedRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Data    interface{}

	Streaming bool
	// TraceID identifies the connect lifecycle; transports send it as X-Trace-Id.
	TraceID string
}

// Body returns the JSON encoding of Data, or nil when there is no data.
func (r *ResolvedRequest) Body() ([]byte, error) {
	if r.Data == nil {
		return nil, nil
	}
	return json.Marshal(r.Data)
}

// HTTPHeader converts Headers into an http.Header.
func (r *ResolvedRequest) HTTPHeader() http.Header {
	h := make(http.Header, len(r.Headers))
	for k, v := range r.Headers {
		h.Set(k, v)
	}
	return h
}

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// IsAbsoluteURL reports whether u carries its own scheme.
func IsAbsoluteURL(u string) bool {
	return schemePattern.MatchString(u)
}

// MergeRequestOptions resolves a per-call request against the base options.
// Headers are merged with per-call values overriding base values field by field;
// header names are compared case-insensitively.
func MergeRequestOptions(base BaseRequestOptions, opts RequestOptions) *ResolvedRequest {
	resolved := &ResolvedRequest{
		Method:    strings.ToUpper(opts.Method),
		Headers:   make(map[string]string, len(base.Headers)+len(opts.Headers)),
		Data:      opts.Data,
		Streaming: opts.Streaming == nil || *opts.Streaming,
	}
	if resolved.Method == "" {
		resolved.Method = http.MethodGet
	}

	for k, v := range base.Headers {
		resolved.Headers[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range opts.Headers {
		resolved.Headers[http.CanonicalHeaderKey(k)] = v
	}

	path := ExpandPath(opts.URL, opts.PathParams)
	if IsAbsoluteURL(path) {
		resolved.URL = path
	} else {
		resolved.URL = base.BaseURL + path
	}
	return resolved
}

// ExpandPath substitutes ":name" placeholders with escaped parameter values.
// Each parameter replaces its first occurrence only. Placeholders without a
// parameter are left untouched. Longer names are substituted first so that
// ":id" never consumes the prefix of ":idx".
func ExpandPath(pattern string, params map[string]string) string {
	if len(params) == 0 {
		return pattern
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	out := pattern
	for _, name := range names {
		out = strings.Replace(out, ":"+name, escapeComponent(params[name]), 1)
	}
	return out
}

// escapeComponent percent-encodes every byte of v outside the URI component
// unreserved set: ASCII letters, digits and -_.!~*'().
func escapeComponent(v string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		ch := v[i]
		if isComponentSafe(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0F])
	}
	return b.String()
}

func isComponentSafe(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", ch) >= 0
}
