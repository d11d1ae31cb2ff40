package transport

import (
	"context"
	"net"
	"time"

	log "github.com/Sirupsen/logrus"
	"github.com/cenkalti/backoff"
)

// Listen accepts connections (from controllers or from physical switches)
// on addr and hands each one to onAccept as a *Session. It runs until ctx
// is cancelled, returning nil then, or returns the error of a failed
// Accept.
func Listen(ctx context.Context, addr string, onAccept func(*Session)) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Errorf("transport: accept on %s: %v", addr, err)
				return err
			}
		}
		onAccept(NewSession(conn))
	}
}

// Dial connects out to addr, retrying with capped exponential backoff
// until it succeeds or ctx is cancelled. internal/slicecfg uses it to reach
// a slice's controller endpoint, which may not be listening yet when the
// slice is applied (SPEC_FULL.md §4.9).
func Dial(ctx context.Context, addr string) (*Session, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // retry until ctx cancellation
	b.MaxInterval = 30 * time.Second

	var conn net.Conn
	operation := func() error {
		var dialer net.Dialer
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			log.Warnf("transport: dial %s: %v, retrying", addr, err)
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return NewSession(conn), nil
}
