package swap

import (
	"log"

	"curvedex/internal/domain"
)

// Notification is the payload delivered to observers on every swap
// lifecycle transition.
type Notification struct {
	Direction     string
	InputAmount   int64
	TransactionID string
	Record        *domain.TradeRecord // set on success when reconciled
	Err           error               // set on failure
}

// Observer receives swap lifecycle events for UI refresh. Callbacks
// run on the orchestrator goroutine and must not block.
type Observer interface {
	TransactionPending(n Notification)
	TransactionSuccessful(n Notification)
	TransactionFailed(n Notification)
}

// Observers fans notifications out to a list of observers.
type Observers []Observer

func (o Observers) pending(n Notification) {
	for _, obs := range o {
		obs.TransactionPending(n)
	}
}

func (o Observers) successful(n Notification) {
	for _, obs := range o {
		obs.TransactionSuccessful(n)
	}
}

func (o Observers) failed(n Notification) {
	for _, obs := range o {
		obs.TransactionFailed(n)
	}
}

// ObserverFuncs adapts plain functions to the Observer interface. Nil
// fields are skipped.
type ObserverFuncs struct {
	Pending    func(n Notification)
	Successful func(n Notification)
	Failed     func(n Notification)
}

var _ Observer = (*ObserverFuncs)(nil)

func (f *ObserverFuncs) TransactionPending(n Notification) {
	if f.Pending != nil {
		f.Pending(n)
	}
}

func (f *ObserverFuncs) TransactionSuccessful(n Notification) {
	if f.Successful != nil {
		f.Successful(n)
	}
}

func (f *ObserverFuncs) TransactionFailed(n Notification) {
	if f.Failed != nil {
		f.Failed(n)
	}
}

// LogObserver writes lifecycle events to a standard logger.
type LogObserver struct {
	Logger *log.Logger
}

var _ Observer = (*LogObserver)(nil)

func (l *LogObserver) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Default()
}

func (l *LogObserver) TransactionPending(n Notification) {
	l.logger().Printf("[swap] pending %s %d tx=%s", n.Direction, n.InputAmount, n.TransactionID)
}

func (l *LogObserver) TransactionSuccessful(n Notification) {
	l.logger().Printf("[swap] confirmed %s %d tx=%s", n.Direction, n.InputAmount, n.TransactionID)
}

func (l *LogObserver) TransactionFailed(n Notification) {
	l.logger().Printf("[swap] failed %s %d tx=%s: %v", n.Direction, n.InputAmount, n.TransactionID, n.Err)
}
