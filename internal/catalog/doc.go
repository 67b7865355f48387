// Package catalog defines the narrow client used to search a satellite
// product catalog and download its products, together with the error types
// such clients return. Concrete implementations live in subpackages.
package catalog
