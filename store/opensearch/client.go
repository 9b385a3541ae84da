package opensearch

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
)

// ClientConfig describes how to reach the cluster.
type ClientConfig struct {
	// Addresses lists the node URLs (default: http://localhost:9200).
	Addresses []string

	Username string
	Password string

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// MaxRetries is the number of retries on 502, 503 and 504 responses
	// (default: 3).
	MaxRetries int

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// NewClient creates an OpenSearch client. The client implements
// opensearchapi.Transport and can be shared by the store and the executor.
func NewClient(cfg ClientConfig) (*opensearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		cfg.Addresses = []string{"http://localhost:9200"}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	transport := cfg.Transport
	if transport == nil && cfg.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in for self-signed dev clusters
		transport = t
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
		Transport:  transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}
