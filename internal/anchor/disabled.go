package anchor

import (
	"context"
	"time"
)

// Disabled is the unconfigured variant: no gateway URL was provided. Submit
// and Query fail with ErrUnavailable; Status still answers, reporting the
// client as unconfigured, so the advisory endpoint stays useful.
type Disabled struct{}

var _ Client = Disabled{}
var _ Admin = Disabled{}

func (Disabled) Submit(ctx context.Context, fingerprint string) (string, error) {
	return "", ErrUnavailable
}

func (Disabled) Query(ctx context.Context, fingerprint string) (bool, error) {
	return false, ErrUnavailable
}

func (Disabled) Status(ctx context.Context) (*Status, error) {
	return &Status{Configured: false, CheckedAt: time.Now().UTC()}, nil
}

func (Disabled) Authorize(ctx context.Context, account string) (string, error) {
	return "", ErrUnavailable
}

func (Disabled) Deauthorize(ctx context.Context, account string) (string, error) {
	return "", ErrUnavailable
}

func (Disabled) Authorized(ctx context.Context, account string) (bool, error) {
	return false, ErrUnavailable
}
