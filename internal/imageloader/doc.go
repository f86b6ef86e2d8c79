// Package imageloader composes the disk cache with a network fetcher and a
// payload decoder: cache first, network on any miss, write back only bytes
// that decode. A failed write-back never fails the load, so a successful
// fetch is not wasted.
package imageloader
