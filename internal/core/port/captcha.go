package port

import "context"

// CaptchaVerifier checks an anti-automation token supplied by the client.
type CaptchaVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}
