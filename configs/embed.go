// Package configs embeds the commented configuration templates written by
// 'verirag config init'.
//
// Precedence, lowest first: built-in defaults, the user config
// (~/.config/verirag/config.yaml), the project config (.verirag.yaml),
// then VERIRAG_* environment variables. Both templates spell out the
// defaults so a fresh file changes nothing until it is edited.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .verirag.yaml in the project root.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to the user config path with --user.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
