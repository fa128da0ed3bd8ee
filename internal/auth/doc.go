// Package auth verifies bearer tokens and enforces scopes on the HTTP API.
//
// Tokens are JWTs signed with HS256 or RS256 and carry sub, roles and
// scopes claims. Viewers hold read and telemetry; controllers add control.
package auth
