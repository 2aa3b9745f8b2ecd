// Package config loads the settings shared by the CoV client and the point
// updater.
//
// Settings come from, in increasing precedence:
//   - built-in defaults
//   - an optional YAML file (--config)
//   - environment variables
//
// Environment variables carry no prefix so the names used by the compose
// files (TARGET_DEVICE_ID, SUBSCRIBE_CONFIRMED, GRPC_HOST, ...) work as is.
// Boolean variables accept true, 1, t, y and yes in any case; anything else
// is false.
//
// Usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.BACnet.TargetDeviceID)
package config
