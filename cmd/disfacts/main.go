package main

import (
	"log/slog"
	"net/http"
	"os"

	_ "net/http/pprof" // profiling

	"disfacts/internal/disfacts/cmd"
	"disfacts/internal/disfacts/log"
)

// profileAddr is used when DISFACTS_PROFILE is "1" rather than an address.
const profileAddr = "localhost:6060"

func main() {
	defer log.RecoverPanic("main", func() {
		slog.Error("Decode aborted by an unhandled panic")
		_ = log.Close()
		os.Exit(2)
	})

	if addr := os.Getenv("DISFACTS_PROFILE"); addr != "" {
		if addr == "1" {
			addr = profileAddr
		}
		go func() {
			slog.Info("Serving pprof", "addr", addr)
			if httpErr := http.ListenAndServe(addr, nil); httpErr != nil {
				slog.Error("Failed to pprof listen", "addr", addr, "error", httpErr)
			}
		}()
	}

	cmd.Execute()
}
