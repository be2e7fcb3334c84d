// Package memory provides in-process implementations of account.Store and
// permission.Store for tests, local development and single-instance
// deployments.
//
// Both stores guard their maps with one mutex. Values are cloned on the way
// in and out so callers never share mutable state with the store.
package memory
