package main

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// splitStoreURL separates a bolt://path or redis://host:port/db connection
// string into its scheme and the scheme-specific remainder. bolt paths are
// returned as given (relative or absolute) rather than reparsed through
// net/url, since bbolt data directories are plain filesystem paths.
func splitStoreURL(storeURL string) (scheme, rest string, err error) {
	parts := strings.SplitN(storeURL, "://", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed store url %q: want scheme://...", storeURL)
	}
	return parts[0], parts[1], nil
}

// redisOptionsFromURL parses a redis:// connection string into go-redis's
// own Options via its URL parser, so query-string auth/TLS options keep
// working without fluxion reimplementing that parsing.
func redisOptionsFromURL(storeURL string) (*redis.Options, error) {
	return redis.ParseURL(storeURL)
}
