// Package config loads the relay's YAML configuration.
//
// Every field has a default, so an empty file is a valid
// configuration. Commands layer flags on top of the loaded values;
// the token may also come from a separate file via token_file.
package config
