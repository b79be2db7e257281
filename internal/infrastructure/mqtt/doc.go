// Package mqtt provides MQTT client connectivity for railhub.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Retained availability topics with Last Will and Testament
//   - The entity topic scheme and discovery config payloads
//
// # Architecture
//
// The bus connects the hub to layout devices and to protocol bridges:
//
//	devices ↔ MQTT Broker ↔ railhub hub
//	                      ↔ WiThrottle bridge ↔ JMRI
//
// Every entity owns <namespace>/<class>/<id>/{config,state,set}. Config is
// published retained; "online" on <namespace>/status asks every publisher
// to announce config and state again.
//
// # Security Considerations
//
//   - TLS is on by default; insecure_tls accepts self-signed broker certificates
//   - Credentials are validated against the broker ACL
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithStatus(topics.Status(), mqtt.StatusOnline, mqtt.StatusOffline))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("%s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
