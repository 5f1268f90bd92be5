/*
Package middleware provides HTTP middleware components for the edge router.

# Middleware Components

## Request ID (requestid.go)

RequestIDMiddleware keeps an inbound X-Request-ID or generates a UUID and adds it to:
  - The request context (accessible via GetRequestID)
  - The X-Request-ID response header

The router copies the ID into every resolution event.

## Logging (logging.go)

LoggingMiddleware provides structured request logging using slog:
  - Logs request start at debug (method, host, path, remote_addr)
  - Logs request completion (status, duration)
  - Supports custom log fields via AddLogField/AddError

## Authentication (authmiddleware.go)

AuthMiddleware guards the control plane with hashed admin API keys.

## Timeout (timeout.go)

TimeoutMiddleware applies the request-path deadline. Lookups against remote
route stores observe it through the request context.

# Middleware Chain Order

 1. RequestIDMiddleware
 2. LoggingMiddleware
 3. AuthMiddleware (admin listener only)
 4. TimeoutMiddleware
 5. Recoverer
 6. OTel instrumentation
*/
package middleware
