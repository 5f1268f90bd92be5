// Package domain holds the request and origin values exchanged with the edge platform.
// The JSON shape follows the CloudFront origin-request event so that a Request can be
// decoded from, and written back to, the platform unchanged.
package domain

import "strings"

// HeaderEntry is a single header value together with its original-case name.
type HeaderEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Headers maps a lowercase header name to its ordered values.
type Headers map[string][]HeaderEntry

// Get returns the first value of the named header.
func (h Headers) Get(name string) (string, bool) {
	entries := h[strings.ToLower(name)]
	if len(entries) == 0 {
		return "", false
	}
	return entries[0].Value, true
}

// Set replaces every value of the named header with a single entry.
func (h Headers) Set(name, value string) {
	lower := strings.ToLower(name)
	h[lower] = []HeaderEntry{{Key: lower, Value: value}}
}

// Clone returns a deep copy of the headers.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = append([]HeaderEntry(nil), v...)
	}
	return out
}

// Request is the request description handed to the router by the edge platform.
type Request struct {
	ClientIP    string  `json:"clientIp,omitempty"`
	Method      string  `json:"method,omitempty"`
	URI         string  `json:"uri,omitempty"`
	QueryString string  `json:"querystring,omitempty"`
	Headers     Headers `json:"headers"`
	Origin      *Origin `json:"origin,omitempty"`
}

// Host returns the first host header value.
func (r *Request) Host() (string, bool) {
	if r == nil || r.Headers == nil {
		return "", false
	}
	return r.Headers.Get("host")
}

// Clone returns a deep copy so callers can rewrite a request without aliasing the input.
func (r *Request) Clone() *Request {
	if r == nil {
		return &Request{Headers: Headers{}}
	}
	out := *r
	out.Headers = r.Headers.Clone()
	if out.Headers == nil {
		out.Headers = Headers{}
	}
	if r.Origin != nil {
		out.Origin = r.Origin.Clone()
	}
	return &out
}

// Origin is the origin selected for a request. Exactly one of Custom or S3 is set.
type Origin struct {
	Custom *CustomOrigin `json:"custom,omitempty"`
	S3     *S3Origin     `json:"s3,omitempty"`
}

// IsFallback reports whether the origin points at the static fallback content.
func (o *Origin) IsFallback() bool {
	return o != nil && o.S3 != nil
}

// DomainName returns the host of whichever origin is set.
func (o *Origin) DomainName() string {
	switch {
	case o == nil:
		return ""
	case o.Custom != nil:
		return o.Custom.DomainName
	case o.S3 != nil:
		return o.S3.DomainName
	}
	return ""
}

// Clone returns a deep copy of the origin.
func (o *Origin) Clone() *Origin {
	if o == nil {
		return nil
	}
	out := &Origin{}
	if o.Custom != nil {
		c := *o.Custom
		c.SSLProtocols = append([]string(nil), o.Custom.SSLProtocols...)
		c.CustomHeaders = o.Custom.CustomHeaders.Clone()
		out.Custom = &c
	}
	if o.S3 != nil {
		s := *o.S3
		s.CustomHeaders = o.S3.CustomHeaders.Clone()
		out.S3 = &s
	}
	return out
}

// CustomOrigin points the platform at an arbitrary HTTPS server.
type CustomOrigin struct {
	DomainName       string   `json:"domainName"`
	Port             int      `json:"port"`
	Protocol         string   `json:"protocol"`
	Path             string   `json:"path"`
	SSLProtocols     []string `json:"sslProtocols"`
	ReadTimeout      int      `json:"readTimeout"`
	KeepaliveTimeout int      `json:"keepaliveTimeout"`
	CustomHeaders    Headers  `json:"customHeaders"`
}

// S3Origin points the platform at a static-content bucket.
type S3Origin struct {
	DomainName    string  `json:"domainName"`
	AuthMethod    string  `json:"authMethod"`
	Path          string  `json:"path"`
	Region        string  `json:"region,omitempty"`
	CustomHeaders Headers `json:"customHeaders"`
}

// Event is the envelope the platform sends to an origin-request hook.
type Event struct {
	Records []EventRecord `json:"Records"`
}

// EventRecord is one record of an Event.
type EventRecord struct {
	CF EventCF `json:"cf"`
}

// EventCF carries the request under the "cf" key.
type EventCF struct {
	Config  map[string]any `json:"config,omitempty"`
	Request *Request       `json:"request"`
}
