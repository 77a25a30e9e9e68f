package ports

import "net/http"

// HTTPClient abstracts the HTTP transport used by gateway adapters.
// *http.Client satisfies this; tests substitute a stub.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
