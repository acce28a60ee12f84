/*
Package eventhub distributes chain events to remote consumers.

A consumer connects over a Stream and sends a Register event listing the
interests it wants delivered. Each Register replaces the previous interest set
as a whole and is acknowledged by echoing it back. Producers publish blocks and
chaincode events to the Hub, which matches them against every consumer's
interests and queues matches for delivery:

  - a BLOCK interest matches every block;
  - a CHAINCODE interest matches chaincode events with the same chaincode id
    and the same event name, or any event name if the interest leaves it
    empty.

Each consumer has a bounded queue. When a consumer falls behind the oldest
queued event is dropped and counted. A consumer's interests are released when
its stream closes; there is no explicit unregister frame.
*/
package eventhub
