// Package account defines the user record, its embedded security settings and
// the storage contract the auth flows depend on.
package account
