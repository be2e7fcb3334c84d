// Package permission models resource-scoped grants: the OWNER/EDITOR/VIEWER
// hierarchy, resource types, per-grant action checks and the storage contract.
//
// # Architecture boundaries
//
// This package is pure data plus interfaces. Authorization decisions that
// span several grants (sharing, revoking, ownership transfer) are made by the
// Engine.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import the root authcore package.
package permission
