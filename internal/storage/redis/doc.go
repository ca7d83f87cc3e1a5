// Package redis backs the content store with Redis string keys. Packages are
// written once under their content address and re-verified on every read.
package redis
