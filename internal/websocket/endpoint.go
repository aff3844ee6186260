package websocket

import (
	"fmt"
	"net/url"
	"strings"

	"sessionlink/pkg/types"
)

// PathTemplate is the session-scoped channel route on the peer
const PathTemplate = "/ws/design-thinking/%s/"

// BuildEndpoint derives {ws|wss}://{host}/ws/design-thinking/{code}/
func BuildEndpoint(host string, secure bool, sessionCode string) (string, error) {
	if err := types.ValidateSessionCode(sessionCode); err != nil {
		return "", err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", ErrEmptyHost
	}

	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: fmt.Sprintf(PathTemplate, sessionCode)}
	return u.String(), nil
}

// EndpointFromPage chooses the scheme from the page's own transport security,
// the way a browser page would.
func EndpointFromPage(pageURL string, sessionCode string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "", ErrInvalidPageURL
	}
	switch u.Scheme {
	case "https":
		return BuildEndpoint(u.Host, true, sessionCode)
	case "http":
		return BuildEndpoint(u.Host, false, sessionCode)
	default:
		return "", ErrInvalidPageURL
	}
}
