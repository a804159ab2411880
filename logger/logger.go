// Package logger provides adapters for popular logger libraries to work with snapfs's Logger interface.
//
// The adapters allow you to use your existing logger with snapfs without writing boilerplate.
// Note that the standard library's slog.Logger already implements snapfs.Logger directly.
//
// Example with zap:
//
//	import (
//	    "snapfs"
//	    "snapfs/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    fs, err := snapfs.Open(snapfs.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer fs.Close()
//	}
package logger
