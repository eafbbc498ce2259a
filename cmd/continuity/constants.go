package main

// Default limits for CLI commands.
const (
	DefaultQueryLimit = 10
	DefaultListLimit  = 50
)

// Valid export formats.
var validFormats = []string{"json", "csv", "markdown"}
