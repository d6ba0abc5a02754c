package streaming

import "crypto/subtle"

// AuthConfig configures the server's authentication policy (§6
// "streaming.auth", §4.7 "Authentication").
type AuthConfig struct {
	Enabled bool
	APIKeys []string
}

// checkAPIKey reports whether token matches one of the configured keys,
// comparing each candidate in constant time so response latency can't leak
// how many leading bytes matched (§4.7 "compared in constant time").
func (a AuthConfig) checkAPIKey(token string) bool {
	if !a.Enabled {
		return true
	}
	ok := false
	for _, key := range a.APIKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}
