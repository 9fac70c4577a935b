package main

import (
	"context"
	"errors"

	"github.com/ooni/tlsprovider/internal/model"
	"github.com/ooni/tlsprovider/internal/tlsconn"
)

// readStream reads from conn waiting for readiness on model.ErrWaitRetry.
func readStream(ctx context.Context, conn *tlsconn.Connection, buffer []byte) (int, error) {
	for {
		count, err := conn.Read(buffer)
		if !errors.Is(err, model.ErrWaitRetry) {
			return count, err
		}
		select {
		case <-conn.Ready():
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// writeStream writes the whole buffer waiting for readiness on model.ErrWaitRetry.
func writeStream(ctx context.Context, conn *tlsconn.Connection, data []byte) error {
	for len(data) > 0 {
		count, err := conn.Write(data)
		if errors.Is(err, model.ErrWaitRetry) {
			select {
			case <-conn.Ready():
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}
		data = data[count:]
	}
	return nil
}
