package service

import (
	"context"
	"errors"
)

// Dispatcher is a Notifier that also runs its own delivery loop.
type Dispatcher interface {
	Notifier
	Start(ctx context.Context) error
}

// RunBackground runs the reconciliation loop and the dispatcher until ctx
// is cancelled. The dispatcher is only stopped once the loop has returned,
// so a round that is in flight at shutdown can still enqueue its
// notifications.
func (svc *StackPayService) RunBackground(ctx context.Context, dispatcher Dispatcher) error {
	dispatchCtx, stopDispatcher := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatcher()

	dispatcherDone := make(chan error, 1)
	go func() {
		dispatcherDone <- dispatcher.Start(dispatchCtx)
	}()

	loopErr := svc.StartReconcileRoutine(ctx)
	svc.Logger.Info("Reconciliation routine done, stopping webhook dispatcher")
	stopDispatcher()

	if err := <-dispatcherDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return loopErr
}
