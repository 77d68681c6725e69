// Package persist is the per-namespace persistence layer of the tracker.
//
// # Overview
//
// Every instance addresses its state through a Namespace derived from the
// environment and the resolved workspace token:
//
//	mprtcl-v4_{token}      production
//	mprtcl-devv4_{token}   development
//
// Storage isolation therefore tracks (environment, workspace token), not
// instance names or apiKeys. Two instances whose apiKeys resolve to the same
// token share a Record; their outboxes stay separate because
// outbox keys carry the apiKey:
//
//	ns/{storeKey}/outbox/{apiKey}/m            (lastSeq)
//	ns/{storeKey}/outbox/{apiKey}/e/{seq_be8}  (framed message)
//
// A Driver provides the raw key-value operations. Memory keeps everything
// in-process; Pebble persists across restarts.
//
//	st := persist.Open(driver, persist.Namespace{WorkspaceToken: "wt1"})
//	rec, found, _ := st.Load(ctx)
//	ob, _ := st.Outbox(ctx, "apiKey1")
//	seqs, _ := ob.Append(ctx, payload)
//	pending, _, _ := ob.Pending(ctx, 100)
//	_ = ob.Ack(ctx, seqs...)
//	_ = st.Purge(ctx)
package persist
