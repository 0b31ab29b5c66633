package main

import (
	"context"
	"os"

	"github.com/scriptweaver/zr/internal/appcmd"
)

// main is a deterministic boundary: every flag, fixture load, and scheduler
// wiring decision lives in internal/appcmd so this stays a single call.
func main() {
	os.Exit(appcmd.Execute(context.Background(), os.Args[1:]))
}
