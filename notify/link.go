package notify

import (
	"net/url"
	"strings"
)

// ResetLink builds the link sent to a user. base is the confirmation page,
// for example "https://kennel.example/reset"; the raw token is added as the
// "token" query parameter. An empty base yields the bare token.
func ResetLink(base, rawToken string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return rawToken
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(rawToken)
	}
	q := u.Query()
	q.Set("token", rawToken)
	u.RawQuery = q.Encode()
	return u.String()
}
