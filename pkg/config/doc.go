// Package config loads pqhost settings from YAML or TOML files and exposes
// them through a Provider. FileProvider watches the file with fsnotify and
// announces a new Settings value on Changes whenever the parsed content
// differs from the previous one.
package config
