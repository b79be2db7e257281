// Package withrottle bridges a WiThrottle server (such as JMRI) to the
// railhub MQTT bus.
//
// # Architecture
//
// The bridge has two halves that are scheduled independently and joined by
// two unbounded FIFO queues:
//
//	WiThrottle server ⇄ Client ──Events──▶ Relay ⇄ MQTT broker
//	                          ◀─Commands──
//
// The Client owns the TCP connection. It follows the state machine
// Disconnected → Connecting → Active → Disconnected, retrying after a fixed
// interval, and ends in Cancelled when its context is cancelled. Decoded
// lines become Events; Commands queued by the Relay are written while a
// session is active and buffered while it is not.
//
// The Relay owns the bus view. It announces each decoder's config before
// its first state, republishes everything when the hub announces "online"
// and turns decoder and power "set" messages into Commands. A stall on one
// side never blocks the other.
//
// # Wire Protocol
//
// WiThrottle is newline-terminated ASCII. Lines handled:
//
//	RL<n>]\[<name>}|{<addr>}|{<type>...   roster list
//	MT+<addr><;>...                      throttle acquired
//	MTL<addr><;>]\[<label>...            function labels, F0 first
//	MTA<addr><;>F<0|1><idx>              function state
//	MTA<addr><;>V<n>                     speed step
//	MTA<addr><;>R<0|1>                   direction (0 reverse)
//	PPA<0|1|2>                           track power off/on/unknown
//	*<n>                                 server heartbeat interval in seconds
//
// The client sends "*" as a keep-alive when nothing has been received for
// three quarters of the announced heartbeat interval, and "Q" on shutdown.
//
// # MQTT Topics
//
//	<ns>/decoder/<slug>-<addr>/{config,state,set}
//	<ns>/switch/<slug>-withrottle-power/{config,state,set}
//	<ns>/bridge/<slug>/health
//
// where <slug> is the lower-cased bridge name with whitespace runs replaced
// by "-".
//
// # Thread Safety
//
// Client, Relay and Bridge are safe for concurrent use. Run and Start must
// only be called once.
package withrottle
