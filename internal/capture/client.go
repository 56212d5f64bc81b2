package capture

import (
	"context"
	"io"
	"net/http"
	"strings"

	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/logger"
)

// Client performs a single bounded network fetch of a photo from a
// device. One outbound call per invocation; retries and freshness
// policy live with the callers.
type Client struct {
	http *http.Client
	log  logger.Logger
}

func NewClient(log logger.Logger) *Client {
	return &Client{
		// Deadlines come from the caller's context
		http: &http.Client{},
		log:  log,
	}
}

// Capture fetches raw JPEG bytes from GET {address}/capture. Transport
// failures and timeouts classify as device_unreachable, non-200
// responses as capture_failed.
func (c *Client) Capture(ctx context.Context, address string) ([]byte, error) {
	errFactory := errors.New()

	url := captureURL(address)
	c.log.Debug().Str("url", url).Msg("Capturing photo")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errFactory.Wrap(ErrDeviceUnreachable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrDeviceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errFactory.WithData(ErrCaptureFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errFactory.Wrap(ErrDeviceUnreachable, err)
	}

	return data, nil
}

// Devices report bare host addresses; registration stores them as-is
func captureURL(address string) string {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}

	return strings.TrimSuffix(address, "/") + "/capture"
}
