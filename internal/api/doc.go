// Package api provides the fleet REST client.
//
// Endpoints, relative to the configured base URL:
//   - GET    v1/vehicle?page=&limit=   paginated vehicle list
//   - GET    v1/vehicle/{id}           single vehicle
//   - POST   v1/vehicle                create vehicle
//   - PATCH  v1/vehicle/{id}           update vehicle
//   - POST   v1/maintenance            record maintenance
//
// Network failures and 5xx responses are retried with jittered exponential
// backoff. 4xx responses are returned as *APIError without retry.
package api
