// Package contracts defines the frames exchanged between the bridge and the
// remote execution context.
//
// Three frame kinds travel over the channel, told apart by their "type" tag:
//   - ready-signal: emitted once by the remote context when it can take requests
//   - request: {type, id, method, args} sent by the bridge
//   - response: {type, id, ok, result?, error?} sent back by the remote context
//
// Frames are plain JSON. Transports move them as raw bytes wrapped in an
// Envelope, which also carries the sender identity (Origin and Source) that the
// frame payload itself does not.
package contracts
