package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tgreddit/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go watchSignals(sigCh, cancel, func() { os.Exit(1) })

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// watchSignals starts the drain on the first termination signal and forces
// the process down on the second. A stuck drain must not outlive an
// operator pressing ctrl-c twice.
func watchSignals(sigCh <-chan os.Signal, cancel context.CancelFunc, exit func()) {
	<-sigCh
	cancel()
	<-sigCh
	exit()
}
