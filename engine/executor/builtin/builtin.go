// Package builtin ships the executors the engine registers out of the box.
// They cover smoke testing and demos: timed work with and without progress
// reporting, and deterministic failure.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/danmincu/pulstrate/engine/executor"
	"github.com/danmincu/pulstrate/engine/task"
)

const (
	TypeCountdown = "countdown"
	TypeSleep     = "sleep"
	TypeFail      = "fail"
)

// Register adds all builtin executors to the registry.
func Register(reg *executor.Registry) error {
	for _, e := range []executor.Executor{
		&Countdown{},
		&Sleep{},
		&Fail{},
	} {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}

func durationSeconds(payload string) (int64, error) {
	result := gjson.Get(payload, "durationInSeconds")
	if !result.Exists() {
		return 0, fmt.Errorf("payload is missing durationInSeconds")
	}
	seconds := result.Int()
	if seconds < 0 {
		return 0, fmt.Errorf("durationInSeconds must not be negative, got %d", seconds)
	}
	return seconds, nil
}

// Countdown runs for durationInSeconds, reporting progress once per elapsed
// second. Payload: {"durationInSeconds": N}.
type Countdown struct{}

func (*Countdown) Type() string { return TypeCountdown }

func (*Countdown) Execute(ctx context.Context, t *task.Item, sink executor.ProgressSink) error {
	seconds, err := durationSeconds(t.Payload)
	if err != nil {
		return err
	}
	if seconds == 0 {
		return nil
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for elapsed := int64(1); elapsed <= seconds; elapsed++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		pct := float64(elapsed) / float64(seconds) * 100
		sink.Report(ctx, pct, executor.WithDetails(
			fmt.Sprintf("%d of %d seconds elapsed", elapsed, seconds)))
	}
	return nil
}

// Sleep blocks for durationInSeconds without reporting progress. Payload:
// {"durationInSeconds": N}.
type Sleep struct{}

func (*Sleep) Type() string { return TypeSleep }

func (*Sleep) Execute(ctx context.Context, t *task.Item, _ executor.ProgressSink) error {
	seconds, err := durationSeconds(t.Payload)
	if err != nil {
		return err
	}
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fail errors immediately with the message from its payload. Payload:
// {"message": "..."}.
type Fail struct{}

func (*Fail) Type() string { return TypeFail }

func (*Fail) Execute(_ context.Context, t *task.Item, _ executor.ProgressSink) error {
	if msg := gjson.Get(t.Payload, "message").String(); msg != "" {
		return errors.New(msg)
	}
	return errors.New("task failed")
}
