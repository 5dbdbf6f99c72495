// Package lookup implements the client for the external product-image
// lookup service. The service resolves a product code to an image URL;
// the client then downloads the image bytes.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/phrazzld/imageworks-api/internal/config"
)

// Common lookup errors.
var (
	// ErrCodeNotFound is returned when the service knows no product for the
	// code. Terminal: retrying cannot help.
	ErrCodeNotFound = errors.New("product code not found")

	// ErrRejected is returned on other 4xx responses. Terminal.
	ErrRejected = errors.New("lookup request rejected")

	// ErrUnavailable wraps timeouts, connection failures and 5xx responses.
	// Retryable: the job machinery redelivers up to the attempt ceiling.
	ErrUnavailable = errors.New("lookup service unavailable")

	// ErrMalformedResponse is returned when the service answers with a body
	// the client cannot interpret. Terminal.
	ErrMalformedResponse = errors.New("malformed lookup response")
)

// maxImageBytes caps how much of an image download the client will buffer.
const maxImageBytes = 32 << 20

// productResponse is the service's resolution payload.
type productResponse struct {
	ImageURL string `json:"image_url"`
}

// Client resolves product codes against the external lookup service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a lookup client from configuration.
// If logger is nil, a default logger will be used.
func NewClient(cfg config.LookupConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With(slog.String("component", "lookup_client")),
	}
}

// FetchImage resolves the code to an image URL and downloads the image.
// Returns the image bytes and the reported content type.
func (c *Client) FetchImage(ctx context.Context, code string) ([]byte, string, error) {
	imageURL, err := c.resolveImageURL(ctx, code)
	if err != nil {
		return nil, "", err
	}

	return c.downloadImage(ctx, imageURL)
}

// resolveImageURL asks the lookup service for the product's image URL.
func (c *Client) resolveImageURL(ctx context.Context, code string) (string, error) {
	endpoint := fmt.Sprintf("%s/products/%s/image", c.baseURL, url.PathEscape(code))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient by definition here.
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp.StatusCode); err != nil {
		c.logger.Warn("lookup service returned error status",
			slog.String("code", code),
			slog.Int("status", resp.StatusCode))
		return "", err
	}

	var product productResponse
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if product.ImageURL == "" {
		return "", fmt.Errorf("%w: empty image URL", ErrMalformedResponse)
	}

	return product.ImageURL, nil
}

// downloadImage retrieves the resolved image bytes.
func (c *Client) downloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid image URL: %v", ErrMalformedResponse, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	return data, contentType, nil
}

// classifyStatus maps an HTTP status to the error taxonomy: 2xx ok,
// 404 not found, other 4xx rejected (terminal), everything else transient.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status %d", ErrRejected, status)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
}
