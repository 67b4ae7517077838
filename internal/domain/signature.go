package domain

import (
	"errors"
	"net/url"
	"strings"
)

// QuerySignature normalizes a resource locator so that equivalent requests
// compare equal: scheme, host and leading slashes are dropped and query
// parameters are re-encoded in sorted key order.
func QuerySignature(resourceLocator string) (string, error) {
	locator := strings.TrimSpace(resourceLocator)
	if locator == "" {
		return "", NewMissingRequiredFieldError("resource locator")
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", NewInvalidLocatorError(locator, err)
	}

	path := strings.TrimLeft(u.EscapedPath(), "/")
	if path == "" {
		return "", NewInvalidLocatorError(locator, errors.New("empty path"))
	}

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", NewInvalidLocatorError(locator, err)
	}

	if len(query) == 0 {
		return path, nil
	}
	// Encode sorts by key.
	return path + "?" + query.Encode(), nil
}
