// Package shared groups helpers used across packages that belong to no
// single layer. Its testutil subpackage holds the buffered slog handler and
// the product grid fixtures the package tests build on.
package shared
