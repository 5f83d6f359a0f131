// Package config handles loading and validating the pcd core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (PCD_*)
//   - Validation of required fields
//   - Default value handling, including the stock platform devices
//
// Credentials (MQTT password, InfluxDB token) should be set through the
// environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/pcdcore.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Driver.MaxDevices)
package config
