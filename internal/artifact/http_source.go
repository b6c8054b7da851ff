package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPSource reads bundle files from a plain HTTP(S) file server. Used for
// local development and test environments without blob storage access.
type HTTPSource struct {
	client  *http.Client
	baseURL string
	prefix  string
}

// NewHTTPSource creates an HTTP artifact source rooted at baseURL/prefix
func NewHTTPSource(baseURL, prefix string) *HTTPSource {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPSource{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		baseURL: baseURL,
		prefix:  prefix,
	}
}

// Download fetches one bundle file. Transient transport failures and 5xx
// responses are retried up to 3 attempts; 4xx responses are not retryable.
func (s *HTTPSource) Download(ctx context.Context, name string, dest io.Writer) error {
	fileURL, err := url.JoinPath(s.baseURL, s.prefix, name)
	if err != nil {
		return &FetchError{Kind: ErrNetwork, File: name, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &FetchError{Kind: ErrNetwork, File: name, Err: ctx.Err()}
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return &FetchError{Kind: ErrNetwork, File: name, Err: err}
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			_, err = io.Copy(dest, resp.Body)
			resp.Body.Close()
			if err != nil {
				return &FetchError{Kind: ErrNetwork, File: name, Err: err}
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return &FetchError{Kind: ErrMissingFile, File: name,
				Err: fmt.Errorf("status code %d", resp.StatusCode)}
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return &FetchError{Kind: ErrPermission, File: name,
				Err: fmt.Errorf("status code %d", resp.StatusCode)}
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: status code %d", resp.StatusCode)
		default:
			resp.Body.Close()
			return &FetchError{Kind: ErrNetwork, File: name,
				Err: fmt.Errorf("unexpected status code %d", resp.StatusCode)}
		}
	}

	return &FetchError{Kind: ErrNetwork, File: name,
		Err: fmt.Errorf("failed after 3 attempts: %w", lastErr)}
}
