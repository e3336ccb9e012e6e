package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for single-attempt HTTP calls to one provider.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// -----------------------------------------------------------------------------

	// Get performs a GET request with query parameters and extra headers.
	// On a non-2xx status the body is still returned alongside a typed error.
	Get(ctx context.Context, url string, params map[string]string, headers map[string]string) ([]byte, error)

	// -----------------------------------------------------------------------------

	// PostJSON sends body encoded as JSON and returns the response body.
	PostJSON(ctx context.Context, url string, body interface{}, headers map[string]string) ([]byte, error)
}
