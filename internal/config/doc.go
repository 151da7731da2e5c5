// Package config loads, normalizes, and validates camwatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CAMWATCH_MQTT_PASSWORD. The Config type centralizes every knob the daemon and
// CLI need: slot count, rescan cadence, restart limits, the dynamic FPS
// controller and the health outputs.
//
// Settings are read once at startup and treated as immutable for the life of
// the process.
package config
