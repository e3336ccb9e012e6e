package interfaces

// -----------------------------------------------------------------------------
// IProxyManager supplies the outbound identity of upstream HTTP calls: the
// egress proxy and the User-Agent header.
// -----------------------------------------------------------------------------

type IProxyManager interface {

	// HasProxies reports whether any valid proxy was configured. Without one,
	// upstream calls go out directly.
	HasProxies() bool

	// -----------------------------------------------------------------------------

	// GetCurrentProxy returns the proxy URL new HTTP clients should use, or "".
	GetCurrentProxy() (string, error)

	// -----------------------------------------------------------------------------

	// RotateProxy advances to the next proxy after a provider refused us
	// (429, 401, 403).
	RotateProxy()

	// -----------------------------------------------------------------------------

	// GetUserAgent picks a User-Agent for requests that do not set one.
	GetUserAgent() string
}
