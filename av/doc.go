// Package av implements the call session state machine.
//
// A Manager tracks at most one call at a time for the local user, in either
// the caller or the callee role, from intent to teardown:
//
//	Idle -> Placing -> Ringing -> Negotiating -> Connected -> Ended
//
// Failed, Rejected, NoAnswer and Offline are alternate terminal states.
// Every terminal state releases both media streams, clears all timers and
// the ring tone, publishes a Notice, and returns the manager to Idle.
//
// # Wiring
//
// The manager drives a transport.PeerTransport for signaling and a
// MediaController for local capture:
//
//	tr, _ := transport.NewWebRTCTransport(dialer, transport.DefaultConfig())
//	mc, _ := media.NewController(source)
//	mgr, _ := av.NewManager(tr, mc, av.DefaultConfig())
//	mgr.OnStateChange(func(s av.Snapshot) { render(s) })
//	if err := mgr.Start(ctx, "alice@demo.com"); err != nil {
//		return err
//	}
//
// # Placing and receiving calls
//
//	err := mgr.StartCall(ctx, "bob", media.KindVideo)
//
// Inbound calls appear as a snapshot whose Phase is "incoming". The
// presentation layer answers with AcceptCall or RejectCall; HangUp is valid
// from every non-idle state.
//
// # Concurrency
//
// All handlers run under one mutex and run to completion. Media acquisition,
// call placement and answering run outside the lock and re-check the session
// generation when they return, so a result for a cancelled session is
// released instead of applied. Observers are called in transition order and
// never while the manager lock is held.
//
// Timers use github.com/benbjohnson/clock so tests can drive them with a
// mock clock.
package av
