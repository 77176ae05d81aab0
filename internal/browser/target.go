package browser

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// navigableSchemes are passed to Chromium untouched.
var navigableSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"file":  true,
	"about": true,
	"data":  true,
}

// ResolveTarget turns the command-line argument into a URL Chromium can
// navigate to. Anything without a known scheme is a local path.
func ResolveTarget(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("empty target")
	}

	if u, err := url.Parse(arg); err == nil && navigableSchemes[strings.ToLower(u.Scheme)] {
		return arg, nil
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", arg, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	if !strings.HasPrefix(u.Path, "/") {
		// Windows drive paths
		u.Path = "/" + u.Path
	}
	return u.String(), nil
}
