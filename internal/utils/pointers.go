// Package utils holds small generic helpers shared across packages.
package utils

// Ptr returns a pointer to v. Handy for populating the optional fields of
// wire types.
func Ptr[T any](v T) *T {
	return &v
}
