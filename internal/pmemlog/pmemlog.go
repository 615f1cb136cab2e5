// Package pmemlog is the single place the engine writes log.Printf-style
// diagnostics, the same stdlib log package the rest of this lineage uses.
// There is no structured logging
// framework anywhere in this codebase's lineage, so this stays a thin
// wrapper rather than reaching for one.
package pmemlog

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "pmemkv: ", log.LstdFlags)

// SetOutput redirects the package logger, mainly so tests can silence it.
func SetOutput(l *log.Logger) {
	if l != nil {
		std = l
	}
}

func Recovery(format string, args ...any) {
	std.Printf("recovery: "+format, args...)
}

func Txn(format string, args ...any) {
	std.Printf("txn: "+format, args...)
}

func Pool(format string, args ...any) {
	std.Printf("pool: "+format, args...)
}
