package crawl

import (
	"fmt"
	"net/url"
)

// ValidateTargetURL enforces the submission contract: an absolute URL with
// an http or https scheme and a host. The returned error wraps
// ErrInvalidInput so callers can map it at the API boundary.
func ValidateTargetURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: target_url is required", ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("%w: target_url must be absolute", ErrInvalidInput)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: target_url has no host", ErrInvalidInput)
	}
	return nil
}
