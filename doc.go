// Package peercall implements one-to-one audio and video calls between users
// identified by email address, over a PeerJS-compatible signaling broker and
// WebRTC media.
//
// The root package is a facade wiring the subsystems together: signaling
// channel selection (factory), broker session and peer connections
// (transport), local capture (media), the user directory (identity) and the
// call session state machine (av).
//
// # Getting Started
//
// Load options from the environment and an optional .env file, then create a
// client and log in:
//
//	opts, err := peercall.LoadOptions("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := peercall.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnStateChange(func(s av.Snapshot) {
//	    fmt.Printf("%s %s\n", s.Phase(), s.RemoteName)
//	})
//
//	if err := client.Login(ctx, "alice@example.com"); err != nil {
//	    log.Fatal(err)
//	}
//	err = client.Call(ctx, "bob", media.KindVideo)
//
// # Configuration
//
// Every Options field has a PEERCALL_ environment variable; see Options for
// the list. The broker URL is only required when not using the simulated
// broker.
//
// # Simulation
//
// With UseSimulation set, clients created from one signaling factory share
// an in-memory broker and synthetic media, so several users can call each
// other inside one process:
//
//	f, _ := factory.NewSignalingFactory(opts.SignalingConfig())
//	alice, _ := peercall.New(opts, peercall.WithSignalingFactory(f))
//	bob, _ := peercall.New(opts, peercall.WithSignalingFactory(f))
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. State callbacks run on the
// goroutine that caused the transition and must not block.
package peercall
