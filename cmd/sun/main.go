package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tyda-syda/sun/internal/app"
)

func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir + "/sun/config.yaml"
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.config/sun/config.yaml"
	}
	return "./config.yaml"
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", defaultConfigPath(), "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		// A worker died; the supervisor already cancelled everything.
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = a.Stop(stopCtx, reason)
	stopCancel()

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		// The user-facing last gasp: the popup outlives the process.
		nctx, ncancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.NotifyCrash(nctx)
		ncancel()
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
