package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const mePermissionsPath = "/api/me/permissions"

// PermissionsResponse is the body served by the current-user permissions endpoint.
type PermissionsResponse struct {
	Permissions []string `json:"permissions"`
}

// HTTPSourceConfig configures HTTPPermissionSource.
type HTTPSourceConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTPPermissionSource fetches the session's permissions from the API, retrying
// transport failures and 5xx answers.
type HTTPPermissionSource struct {
	client  *http.Client
	baseURL string
	token   string
}

var _ PermissionSource = (*HTTPPermissionSource)(nil)

// NewHTTPPermissionSource builds a source for the API rooted at cfg.BaseURL.
func NewHTTPPermissionSource(cfg HTTPSourceConfig) *HTTPPermissionSource {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		retryClient.HTTPClient.Timeout = cfg.Timeout
	}
	retryClient.Logger = nil

	return &HTTPPermissionSource{
		client:  retryClient.StandardClient(),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}
}

func (s *HTTPPermissionSource) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+mePermissionsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("rbac: build permissions request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rbac: fetch permissions: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("rbac: fetch permissions: unexpected status %d", resp.StatusCode)
	}
	var body PermissionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("rbac: decode permissions: %w", err)
	}
	if body.Permissions == nil {
		body.Permissions = []string{}
	}
	return body.Permissions, nil
}
