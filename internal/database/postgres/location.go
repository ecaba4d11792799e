package postgres

import "net/url"

// redactURL strips credentials from a connection URL for logs and stats.
// Non-URL connection strings are reported as "postgres".
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "postgres"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
