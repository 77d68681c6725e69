// Package id generates message ids that sort by creation time.
//
// An ID is 16 bytes: a 48-bit millisecond timestamp, a 16-bit sequence and
// an 8-byte node value chosen randomly per Generator. IDs from one
// Generator are strictly increasing; the node keeps ids from different
// instances apart when they share a millisecond. String renders the usual
// 8-4-4-4-12 hex form so the value reads like the uuids the collection
// service already accepts.
//
// When the clock goes backwards the generator keeps using the last
// millisecond it saw. When the sequence wraps within one millisecond it
// borrows the next millisecond instead of waiting.
//
//	g := id.NewGenerator()
//	msgID := g.Next().String()
package id
