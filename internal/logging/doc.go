// Package logging builds the structured logger handed to every vkb component.
//
// Logs are JSON records written to a size-rotated file under ~/.vkb/logs/,
// optionally mirrored to stderr with --debug. Nothing is logged to stdout,
// which the serve command hands to the MCP transport.
package logging
