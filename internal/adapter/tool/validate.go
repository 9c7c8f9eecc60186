package tool

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"nu-mcp/internal/domain"
)

// invalidf builds an ErrInvalidInput error with a formatted detail.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// RequireField returns an error if the string value is empty or blank.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalidf("'%s' is required", name)
	}
	return nil
}

// ValidateRange checks that value is within [min, max]. Returns nil on success.
func ValidateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return invalidf("%s must be %d-%d", name, min, max)
	}
	return nil
}

// ValidateEnum checks that value is one of the allowed values.
// An empty value is allowed (treated as "not set").
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalidf("invalid %s %q (want: %s)", name, value, strings.Join(allowed, ", "))
}

// ValidateAll returns the first non-nil error from the given list.
//
//	if err := ValidateAll(RequireField("url", p.URL), ValidateURL("url", p.URL)); err != nil { ... }
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateURL checks that value is a valid absolute HTTP(S) URL.
// An empty value is allowed (use RequireField to enforce presence).
func ValidateURL(name, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return invalidf("invalid %s: %s", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidf("invalid %s: scheme must be http or https", name)
	}
	if u.Host == "" {
		return invalidf("invalid %s: missing host", name)
	}
	return nil
}

// ValidateAbsPath checks that value is an absolute filesystem path.
func ValidateAbsPath(name, value string) error {
	if value == "" {
		return nil
	}
	if !filepath.IsAbs(value) {
		return invalidf("%s must be an absolute path, got %q", name, value)
	}
	return nil
}

// ValidateHeaders rejects header names or values that could split a request.
func ValidateHeaders(headers map[string]string) error {
	for k, v := range headers {
		if k == "" || strings.ContainsAny(k, "\r\n: ") {
			return invalidf("invalid header name %q", k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return invalidf("invalid value for header %q", k)
		}
	}
	return nil
}
