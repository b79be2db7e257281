// Package config handles loading and validating railhub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with RAILHUB_* environment variables (and an optional .env file)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials and the JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The configuration database is never written by railhub
//
// Usage:
//
//	if err := config.LoadDotEnv(".env"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Namespace)
package config
