// Package httpapi exposes Engine flows as a JSON API on a chi router.
//
// Access tokens travel in the response body and come back in the
// Authorization header. Refresh tokens only ever travel in an HttpOnly
// cookie, so browser scripts never see them.
//
// Errors are JSON objects of the form
//
//	{"error": "conflict", "code": "username_taken", "message": "...", "fields": {...}}
//
// with the HTTP status taken from the error kind.
package httpapi
