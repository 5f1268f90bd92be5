package router

import (
	"strings"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
)

// FirstLabel returns host up to, not including, the first '.'.
// A host without a dot is returned whole.
func FirstLabel(host string) string {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}

// ParseSubdomain extracts the (service, tenant) pair encoded as "<service>-<tenant>"
// in the first label of host. A label with no hyphen, more than one hyphen, or an
// empty part is rejected.
func ParseSubdomain(host string) (domain.SubdomainKey, bool) {
	return domain.ParseKey(FirstLabel(host))
}
