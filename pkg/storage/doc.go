// Package storage defines the API key record model and the KeyStore
// interface implemented by the memory and postgres adapters, together with
// the sentinel errors and site scoping helpers they share.
package storage
