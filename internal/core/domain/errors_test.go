package domain

import (
	"testing"
)

func TestValidateDestination(t *testing.T) {
	tests := []struct {
		name     string
		dest     string
		wantHost string
		wantErr  bool
	}{
		{name: "https", dest: "https://placebear.com", wantHost: "placebear.com"},
		{name: "with port", dest: "https://api.example.com:8443/v1", wantHost: "api.example.com:8443"},
		{name: "no scheme", dest: "placebear.com", wantErr: true},
		{name: "ftp", dest: "ftp://files.example.com", wantErr: true},
		{name: "empty", dest: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ValidateDestination(tt.dest)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ValidateDestination(%q) expected error", tt.dest)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateDestination(%q) error = %v", tt.dest, err)
			}
			if u.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", u.Host, tt.wantHost)
			}
		})
	}
}

func TestOriginHost(t *testing.T) {
	tests := []struct {
		dest string
		want string
	}{
		{dest: "https://placebear.com", want: "placebear.com"},
		{dest: "https://placebear.com:443", want: "placebear.com"},
		{dest: "http://placebear.com:80/x", want: "placebear.com"},
		{dest: "https://PlaceBear.COM", want: "placebear.com"},
		{dest: "https://api.example.com:8443/v1", want: "api.example.com:8443"},
		{dest: "http://api.example.com:443", want: "api.example.com:443"},
		{dest: "https://[::1]:443", want: "[::1]"},
		{dest: "https://[::1]:8443", want: "[::1]:8443"},
	}

	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			u, err := ValidateDestination(tt.dest)
			if err != nil {
				t.Fatalf("ValidateDestination(%q) error = %v", tt.dest, err)
			}
			if got := OriginHost(u); got != tt.want {
				t.Errorf("OriginHost(%q) = %q, want %q", tt.dest, got, tt.want)
			}
		})
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want SubdomainKey
		ok   bool
	}{
		{in: "img-bear", want: SubdomainKey{ServiceID: "img", TenantID: "bear"}, ok: true},
		{in: "img", ok: false},
		{in: "img-", ok: false},
		{in: "-bear", ok: false},
		{in: "a-b-c", ok: false},
	}

	for _, tt := range tests {
		got, ok := ParseKey(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseKey(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
		if ok && got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestRequestClone(t *testing.T) {
	req := &Request{
		URI:     "/200/300",
		Headers: Headers{"host": {{Key: "Host", Value: "img-bear.example.com"}}},
		Origin:  &Origin{Custom: &CustomOrigin{DomainName: "a", SSLProtocols: []string{"TLSv1.2"}}},
	}

	out := req.Clone()
	out.Headers.Set("host", "placebear.com")
	out.Origin.Custom.SSLProtocols[0] = "TLSv1"

	if host, _ := req.Host(); host != "img-bear.example.com" {
		t.Errorf("input host mutated to %q", host)
	}
	if req.Origin.Custom.SSLProtocols[0] != "TLSv1.2" {
		t.Error("input origin mutated")
	}
}

func TestHeadersGet_CaseInsensitive(t *testing.T) {
	h := Headers{"host": {{Key: "Host", Value: "x.example.com"}}}
	if v, ok := h.Get("Host"); !ok || v != "x.example.com" {
		t.Errorf("Get(Host) = %q, %v", v, ok)
	}
	if _, ok := h.Get("x-missing"); ok {
		t.Error("Get(x-missing) ok = true")
	}
}
