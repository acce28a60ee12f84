/*
Package blocksync brings a lagging node up to the head announced by a peer.

Peers announce every block they commit with a SYNC_BLOCK_ADDED frame carrying
their new chain position and the block itself. When the announced block extends
the local head the Engine commits it directly. Otherwise the Engine requests
the missing range of blocks, together with their state deltas, from the
announcing peer, verifies that the range forms an unbroken hash chain from the
local head to the announced head, and commits it block by block in ascending
order.

The Server answers SYNC_GET_BLOCKS requests from the local ledger, in the
direction the request asks for. The Client issues those requests through a
dispatcher.Dispatcher and checks the echoed range.

An announcement for a height the node already holds is ignored, so every
height is applied at most once no matter how many peers announce it.
*/
package blocksync
