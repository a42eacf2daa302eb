// Package api provides request/response DTOs for the LexFlow HTTP API.
//
// # API Overview
//
// LexFlow provides a RESTful API for:
//   - Orchestrated legal question answering (JSON and SSE streaming)
//   - Uploaded document management with asynchronous ingestion
//   - Court practice search over the ZakonOnline bridge
//   - Circuit breaker inspection and reset
//   - Health monitoring and metrics
//
// # Authentication
//
// When JWT auth is enabled, mutating endpoints require a bearer token:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8000
//
// Swagger annotations live on the handlers in api/handlers; regenerate with:
//
//	swag init -g cmd/lexflow/main.go -o api --parseDependency --parseInternal
package api
