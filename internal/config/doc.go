// Package config provides YAML configuration loading and validation for the
// realtime transcription service. API keys support ${VAR} environment
// expansion so secrets stay out of the config file.
package config
