// Package state holds the live picture of every device on the layout.
//
// The Store is keyed by bus topic. Each topic owns exactly one Record made
// of two independent halves:
//
//   - Model: configuration snapshot (display name, command topic, the raw
//     payload values that mean "through" and "diverge" for points).
//   - Live: decoded runtime state (status, speed, direction, functions).
//
// Model and Live are never updated by the same call. Recalculation passes
// refresh the model through UpdateModel; device reports refresh the live
// half through UpdateState, which decodes the raw bus payload according to
// the record's Kind.
//
// # Listeners
//
// Listeners are notified inline, in registration order, by the call that
// mutated the store. Mutations and their fan-out are serialised, so every
// listener observes changes in exactly the order they were applied and
// each notification reflects the state after its mutation. A listener
// added late receives one synchronous replay of the current snapshot with
// an empty topic and never sees history.
//
// Listener callbacks run while the store's dispatch lock is held. They
// must not block and must not call mutating Store methods.
//
// # Usage
//
//	store := state.NewStore()
//	store.SetLogger(log)
//	store.AddState("railhub/points/p1/state", state.Record{
//	    Kind:  state.KindPoints,
//	    Model: state.Model{ThroughState: "THROUGH", DivergeState: "DIVERGE"},
//	    Live:  state.Live{Status: state.StatusUnknown},
//	}, true)
//
//	u, err := state.ParseUpdate(payload)
//	if err == nil {
//	    err = store.UpdateState(topic, u)
//	}
package state
