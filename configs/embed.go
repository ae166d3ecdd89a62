// Package configs embeds the annotated settings template written by
// `vkb config init`.
package configs

import _ "embed"

// SettingsTemplate is a commented YAML settings file holding the defaults.
// Every key can also be set with a VKB_* environment variable.
//
//go:embed settings.example.yaml
var SettingsTemplate string
