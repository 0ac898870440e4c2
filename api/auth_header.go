package api

import (
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerToken returns the JWT carried by an Authorization header value.
func bearerToken(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := strings.TrimSpace(trimmed[len(bearerPrefix):])
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// authHeader prefers the Authorization header and falls back to the token
// query parameter, which EventSource clients use since they cannot set
// headers.
func authHeader(header, queryToken string) string {
	if header == "" && queryToken != "" {
		return bearerPrefix + queryToken
	}
	return header
}
