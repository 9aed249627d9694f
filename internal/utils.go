package utils

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

var QuitChan = make(chan os.Signal, 1)

func Shutdown(reason string) {
	fmt.Printf("🚨 %s\n", reason)
	os.Exit(1)
}

// GracefulExit asks the process to stop the same way Ctrl-C would, so running
// uploads go through their abort path.
func GracefulExit(reason string) {
	fmt.Printf("🚨 %s\n", reason)
	process, err := os.FindProcess(os.Getpid())
	if err == nil {
		process.Signal(syscall.SIGTERM)
	}
}

// CancelOnSignal returns a context that is cancelled on the first SIGINT or
// SIGTERM.
func CancelOnSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signal.Notify(QuitChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(QuitChan)
		select {
		case sig := <-QuitChan:
			fmt.Printf("🛑 Received %s, stopping...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// SplitList splits a comma separated flag value, dropping blanks.
func SplitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
