// Package app wires the application together: configuration, logging,
// OpenTelemetry, the license manager and its stores, the services
// layer, the local HTTP API, and the update scheduler. It owns startup
// order and graceful shutdown; business logic lives in the packages it
// assembles.
package app
