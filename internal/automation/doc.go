// Package automation derives signal aspects from block occupancy and points
// position.
//
// The Engine is a state.Listener. Whenever a points or block detector
// record changes (or the store replays its full snapshot) it evaluates every
// configured SignalAutomation rule:
//
//   - gated rule: clear only when the gated points report the required
//     position and the block detector reports off; otherwise danger.
//   - ungated rule: clear when the block detector reports off; otherwise
//     danger.
//   - a rule referencing a topic the store does not hold yields nothing.
//
// Rules are grouped by signal. A signal with any clear candidate is cleared;
// otherwise it is set to danger.
//
// Results are held for a short debounce window so a burst of updates from
// one physical event publishes once. Danger commands are always published
// before clear commands.
//
// # Usage
//
//	engine, err := automation.NewEngine(automation.EngineOptions{
//	    Rules:     registry,
//	    Publisher: mqttClient,
//	    Debounce:  250 * time.Millisecond,
//	    Logger:    log,
//	})
//	store.AddListener(engine)
//	defer engine.Stop()
package automation
