// Package configs provides embedded configuration templates for cogmemd.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they are available in source builds and binary releases alike.
//
// The templates are used by:
//   - cmd/cogmemd/cmd/config.go → creates the user config at ~/.config/cogmemd/config.yaml
//
// No CLI command writes the project template; a project's .cogmemd.yaml is
// created by hand.
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/cogmemd/config.yaml)
//  3. Project config (.cogmemd.yaml)
//  4. Environment variables (COGMEMD_*)
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by `cogmemd config init` at ~/.config/cogmemd/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration.
// Copied by hand to .cogmemd.yaml in the spec folder root.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
