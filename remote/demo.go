package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RegisterDemo installs the sample methods served by `rpcbridge serve`:
// echo, sum, fail and slow
func RegisterDemo(r *Responder) error {
	methods := map[string]HandlerFunc{
		"echo": echo,
		"sum":  sum,
		"fail": fail,
		"slow": slow,
	}
	for name, fn := range methods {
		if err := r.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// echo returns its only argument, or all of them as a list
func echo(ctx context.Context, args []json.RawMessage) (any, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return args, nil
}

func sum(ctx context.Context, args []json.RawMessage) (any, error) {
	var total float64
	for i, raw := range args {
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("argument %d is not a number", i)
		}
		total += n
	}
	return total, nil
}

// fail reports its first argument as the error text
func fail(ctx context.Context, args []json.RawMessage) (any, error) {
	message := "boom"
	if err := DecodeArgs(args, &message); err != nil {
		return nil, err
	}
	return nil, errors.New(message)
}

// slow waits for the given number of milliseconds (default 60000)
func slow(ctx context.Context, args []json.RawMessage) (any, error) {
	millis := 60000
	if err := DecodeArgs(args, &millis); err != nil {
		return nil, err
	}

	timer := time.NewTimer(time.Duration(millis) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return "done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
