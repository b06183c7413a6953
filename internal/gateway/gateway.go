package gateway

import (
	"context"
)

// SendResult is the gateway's answer for a single recipient. Accepted=false
// with a non-nil Err is recorded against the delivery row; this engine never
// retries on the gateway's behalf.
type SendResult struct {
	Accepted          bool
	ProviderMessageID string
	Err               error
}

// Gateway is the external SMS/push transport. Implementations are expected
// to be safe for concurrent use.
type Gateway interface {
	Send(ctx context.Context, phone, content, channel string) SendResult
}
