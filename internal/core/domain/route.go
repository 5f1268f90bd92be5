package domain

import (
	"strings"
	"time"
)

// SubdomainKey identifies a service of a tenant, parsed from "<service>-<tenant>".
type SubdomainKey struct {
	ServiceID string `json:"service_id"`
	TenantID  string `json:"tenant_id"`
}

// String returns the composite table key "<service>-<tenant>".
func (k SubdomainKey) String() string {
	return k.ServiceID + "-" + k.TenantID
}

// ParseKey splits a composite key into a SubdomainKey. It accepts exactly two
// non-empty hyphen-separated parts.
func ParseKey(s string) (SubdomainKey, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return SubdomainKey{}, false
	}
	return SubdomainKey{ServiceID: parts[0], TenantID: parts[1]}, true
}

// Route is one entry of the resolution table.
type Route struct {
	ServiceID   string    `json:"service_id" db:"service_id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Destination string    `json:"destination" db:"destination"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Key returns the route's SubdomainKey.
func (r *Route) Key() SubdomainKey {
	return SubdomainKey{ServiceID: r.ServiceID, TenantID: r.TenantID}
}
