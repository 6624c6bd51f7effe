// Package bridge invokes named operations inside an isolated remote execution
// context over an asynchronous, unordered, best-effort message channel.
//
// The channel offers no call/return semantics, so the bridge provides them:
//   - a lazy, one-time handshake that launches the remote context and waits for
//     its ready-signal (10s by default, terminal on failure)
//   - request ids ("rpc_1", "rpc_2", ...) that correlate responses to callers
//   - a per-request deadline (30s by default) that settles callers whose
//     response never arrives
//   - a single router that classifies every inbound frame and drops anything
//     it does not recognize
//
// Basic usage:
//
//	b, err := bridge.NewBridge(launcher, bridge.WithAddress("https://remote.example/exec"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//
//	result, err := b.Invoke(ctx, "getParticipantOptions")
//
// Every Invoke settles exactly once: with the remote result, with the remote
// error text (*RemoteError), or with a *RequestError wrapping ErrRequestTimeout.
// A late response for a timed-out request is dropped.
package bridge
