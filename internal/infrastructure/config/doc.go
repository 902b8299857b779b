// Package config loads the fleet bridge configuration.
//
// Load starts from built-in defaults, overlays the YAML file, applies
// FLEETBRIDGE_* environment variables and finally runs Validate. The mqtt
// section is the fallback broker: it is used when a connect command names
// neither a config nor a profile and no default profile exists, and it seeds
// the first profile on an empty database.
//
// Broker passwords, Redis passwords and the JWT secret are best supplied via
// FLEETBRIDGE_MQTT_PASSWORD, FLEETBRIDGE_REDIS_PASSWORD and
// FLEETBRIDGE_JWT_SECRET rather than committed to the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.GetSubscribeTimeout()
package config
