// Package middleware holds the gin middleware shared by the HTTP routes.
//
// Auth validates the bearer token issued at login and stores the caller's
// user id in the request context under UserIDKey.
package middleware
