package haulsdk

import (
	"time"

	"github.com/imroc/req/v3"
	"github.com/openhaul/haulbox/internal/version"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderAuthToken = "Authorization"
)

// HaulSDK is the client for the HaulBox chunk server API.
type HaulSDK struct {
	client  *req.Client
	baseURL string
	Uploads *UploadsAPI
}

// Option configures the SDK client.
type Option func(*req.Client)

// WithAuthToken sets a bearer token on every request.
func WithAuthToken(token string) Option {
	return func(c *req.Client) {
		c.SetCommonBearerAuthToken(token)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *req.Client) {
		c.SetTimeout(d)
	}
}

// New creates a new HaulSDK client.
// Retries are owned by the transmitter, not the transport.
func New(baseURL string, opts ...Option) (*HaulSDK, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetCommonHeader(HeaderUserAgent, "HaulBox/"+version.Version).
		SetCommonRetryCount(0).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&APIError{})

	for _, opt := range opts {
		opt(client)
	}

	return &HaulSDK{
		client:  client,
		baseURL: baseURL,
		Uploads: newUploadsAPI(client),
	}, nil
}

// Close releases idle connections.
func (s *HaulSDK) Close() {
	s.client.GetClient().CloseIdleConnections()
}
