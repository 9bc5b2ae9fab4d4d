// Package http exposes the local license API over chi. The API is a
// thin shell around the services layer: handlers bind and validate
// request payloads, delegate to the service, and translate failures
// into RFC 7807 problem documents. All responses are served from local
// state or a single remote call; the server never fans out.
package http
