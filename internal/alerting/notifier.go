package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Notification carries the context of one anomaly-rate alert.
type Notification struct {
	Input        string
	Change       decimal.Decimal
	Threshold    decimal.Decimal
	PreviousRate decimal.Decimal
	CurrentRate  decimal.Decimal
	When         time.Time
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Fanout dispatches a notification to every configured channel and
// reports the combined failures, if any.
type Fanout []Notifier

// Notify sends to all channels; one channel failing does not stop the rest.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func subjectLine(note Notification) string {
	return fmt.Sprintf("[ALERT] url %s", note.Input)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Url %s registered an alarming change of %s at %s UTC\n",
		note.Input, note.Change.Round(4), note.When.UTC().Format("2006-01-02 15:04:05")))
	builder.WriteString(fmt.Sprintf("Anomaly rate: %s -> %s (threshold %s)\n",
		note.PreviousRate.Round(4), note.CurrentRate.Round(4), note.Threshold.Round(4)))
	return builder.String()
}

var _ Notifier = (Fanout)(nil)
