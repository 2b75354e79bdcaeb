// Package wal implements the segmented write-ahead log the engine appends
// every state-changing event to before acknowledging it. It supports CRC
// validation, size-based rotation, snapshot-driven truncation and ordered
// replay.
package wal
