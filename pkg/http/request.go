package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
)

// UnknownClient is the rate-limit key used when no client address can be determined
const UnknownClient = "unknown"

// maxPeekBody caps how much of a request body is buffered to read form fields
const maxPeekBody = 1 << 20

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges or single addresses of trusted proxies
}

// ExtractClientIP extracts the real client IP address from the request.
// X-Forwarded-For and X-Real-IP are honoured only when the direct peer is a
// trusted proxy. X-Forwarded-For is read right to left: each proxy appends the
// address it saw, so the first untrusted entry from the right is the client
// and anything further left was written by the client itself.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config == nil || !isTrustedProxy(remoteIP, config.TrustedProxies) {
		return remoteIP
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		if ip, ok := forwardedClient(strings.Join(xff, ","), config.TrustedProxies); ok {
			return ip
		}
		return remoteIP
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && isValidIP(xri) {
		return xri
	}

	return remoteIP
}

// forwardedClient walks an X-Forwarded-For chain from the right, skipping
// trusted proxies. A malformed hop ends the walk since nothing left of it can
// be attributed. When every hop is trusted the leftmost one is returned.
func forwardedClient(xff string, trusted []string) (string, bool) {
	hops := strings.Split(xff, ",")
	last := ""
	for i := len(hops) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(hops[i])
		if !isValidIP(ip) {
			break
		}
		if !isTrustedProxy(ip, trusted) {
			return ip, true
		}
		last = ip
	}
	return last, last != ""
}

// ClientKey canonicalises an address for use in a rate-limit key.
// IPv4 and IPv4-mapped IPv6 addresses collapse to dotted form; IPv6 addresses
// collapse to their /64 so one host cannot rotate through its own prefix.
// Anything unparseable becomes UnknownClient.
func ClientKey(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return UnknownClient
	}
	addr = addr.Unmap().WithZone("")
	if addr.Is4() {
		return addr.String()
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return UnknownClient
	}
	return prefix.String()
}

// IsSafeMethod reports whether the method cannot change server state
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// WantsJSON reports whether the caller is an API or AJAX client rather than a browser form post
func WantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return isJSONContent(r)
}

// ReadBodyFields returns the named top-level string fields from a JSON or
// form-encoded body and restores the body so handlers can read it again.
// Only the first maxPeekBody bytes are inspected; a longer body yields no
// fields but still reaches the handler intact.
func ReadBodyFields(r *http.Request, names ...string) map[string]string {
	out := make(map[string]string, len(names))
	if r.Body == nil || r.Body == http.NoBody {
		return out
	}

	body := r.Body
	raw, err := io.ReadAll(io.LimitReader(body, maxPeekBody+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(raw), body), Closer: body}
	if err != nil || len(raw) == 0 || len(raw) > maxPeekBody {
		return out
	}

	if isJSONContent(r) {
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return out
		}
		for _, name := range names {
			if s, ok := doc[name].(string); ok {
				out[name] = s
			}
		}
		return out
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return out
	}
	for _, name := range names {
		if v := values.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

type readCloser struct {
	io.Reader
	io.Closer
}

func isJSONContent(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return UnknownClient
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// isTrustedProxy checks the peer against trusted CIDR ranges or single addresses
func isTrustedProxy(ip string, trustedProxies []string) bool {
	if len(trustedProxies) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range trustedProxies {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if single, err := netip.ParseAddr(entry); err == nil && single.Unmap() == addr {
			return true
		}
	}

	return false
}

func isValidIP(ip string) bool {
	_, err := netip.ParseAddr(ip)
	return err == nil
}
