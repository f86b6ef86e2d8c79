// Package cache implements the on-disk image cache. Entries live as flat files
// under a single directory, named by DeriveKey(identifier) with no extension,
// and hold the raw bytes handed to Put. Writes go through a temp file + rename
// so readers only ever observe the old or the new payload. The package knows
// nothing about HTTP or image formats; imageloader composes it with a fetcher
// and a decoder.
package cache
