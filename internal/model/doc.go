// Package model defines shared data types used across the fleet dashboard core.
//
// Conventions:
//   - JSON field names follow the fleet API (camelCase)
//   - Distances in kilometres, speeds in km/h
//   - Timestamps: time.Time, RFC 3339 on the wire
//   - IDs: opaque strings issued by the API
package model
