// Package serverrun owns the server start path shared by the CLI.
package serverrun
