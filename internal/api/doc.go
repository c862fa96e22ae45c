// Package api wires the HTTP routes of the service onto a gin engine.
//
// Handlers live in the handlers subpackage. They translate requests into
// service and coordinator calls and map classified errors onto status codes.
package api
