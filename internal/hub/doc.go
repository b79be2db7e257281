// Package hub feeds the state store from the MQTT bus.
//
// The hub subscribes to every entity config and state topic under the
// namespace. Config messages announce bus-discovered entities such as
// decoders; state messages are decoded into the store. The store's record
// set is rebuilt from the catalog plus discovered decoders by Recalculate,
// which runs on startup, after every accepted config, when the catalog
// changes and after a bus reconnect.
//
// On reconnect the store is cleared before the rebuild so no stale live
// state survives a gap in the message stream. The MQTT client then
// republishes "online" on <namespace>/status and devices answer with fresh
// state.
//
// Telemetry is an optional store listener that records every state change
// in InfluxDB.
package hub
