// Package ports defines the interfaces that connect the application layer
// to infrastructure adapters.
//
// # Port Interfaces
//
//   - [Source]: produces raw controller bytes (serial port, spool tail, file)
//   - [Outbox]: durable local event store
//   - [Backend]: the remote edge API
//   - [TokenSource]: current bearer token
//   - [PositionRepository]: persists the spool read position
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// The application layer (internal/app, internal/syncer, internal/health)
// depends only on these interfaces. Infrastructure adapters
// (internal/adapters, internal/outbox) implement them.
package ports
