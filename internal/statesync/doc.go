/*
Package statesync transfers world state between peers.

A snapshot transfer streams the full state of the responder as a sequence of
SYNC_STATE_SNAPSHOT chunks. Chunks carry consecutive sequence numbers starting
at zero and the block number the snapshot was taken at; the first chunk with an
empty delta ends the transfer. The receiver concatenates the chunks in sequence
order and hands the result to a StateApplier.

A delta transfer returns the per-block state deltas of a range of blocks in a
single SYNC_STATE_DELTAS reply, positionally aligned with the range.
*/
package statesync
