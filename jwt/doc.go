// Package jwt signs and verifies short-lived access tokens carrying the
// subject, role, kind, permission codes, refresh family and a jti.
package jwt
