package forwarder

import "strings"

// hopByHop is the header set forbidden from crossing the proxy in either
// direction, host included; the incoming Authorization is filtered separately
// by the caller.
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
}

func isHopByHop(header string) bool {
	_, ok := hopByHop[strings.ToLower(header)]
	return ok
}
