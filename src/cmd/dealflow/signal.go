package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lixenwraith/log"
)

// SignalHandler turns OS signals into pipeline actions.
type SignalHandler struct {
	svc     *Service
	logger  *log.Logger
	sigChan chan os.Signal
}

func NewSignalHandler(svc *Service, logger *log.Logger) *SignalHandler {
	sh := &SignalHandler{
		svc:     svc,
		logger:  logger,
		sigChan: make(chan os.Signal, 1),
	}

	signal.Notify(sh.sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,  // flush now
		syscall.SIGUSR1, // flush now
	)
	return sh
}

// Handle flushes on SIGHUP and SIGUSR1 and returns the first termination
// signal, or nil when ctx ends.
func (sh *SignalHandler) Handle(ctx context.Context) os.Signal {
	for {
		select {
		case sig := <-sh.sigChan:
			switch sig {
			case syscall.SIGHUP, syscall.SIGUSR1:
				sh.logger.Info("msg", "Flush signal received",
					"component", "main",
					"signal", sig,
					"queued", sh.svc.Pipeline.QueueLen())
				sh.svc.Pipeline.Go(func() error {
					sh.svc.Pipeline.Flush(ctx)
					return nil
				})
			default:
				return sig
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (sh *SignalHandler) Stop() {
	signal.Stop(sh.sigChan)
}
