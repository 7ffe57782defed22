// Package media defines the value types shared by the capture pipeline:
// capture sources, frame formats and frames.
//
// # Frame Ownership
//
// A Frame is owned by exactly one component at a time. The capture strategy
// that produced it owns it until it hands it to the session; the hub hands
// each subscriber its own copy (Clone). A consumer that is done with a frame
// should call Release so the backing buffer returns to the arena pool.
//
// Sharing a Frame by reference across consumers is a bug: the pool may hand
// the buffer to a new frame as soon as any holder releases it.
package media
