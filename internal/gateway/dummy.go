package gateway

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Dummy simulates a transport for local runs: small latency, a few percent
// of rejections.
type Dummy struct {
	FailurePct int
	Latency    time.Duration
}

func NewDummy() *Dummy { return &Dummy{FailurePct: 3, Latency: 30 * time.Millisecond} }

func (d *Dummy) Send(ctx context.Context, phone, content, channel string) SendResult {
	select {
	case <-ctx.Done():
		return SendResult{Err: ctx.Err()}
	case <-time.After(d.Latency):
	}
	if rand.Intn(100) < d.FailurePct {
		return SendResult{Err: errors.New("gateway_temporary_error")}
	}
	return SendResult{Accepted: true, ProviderMessageID: "prov-" + randomID()}
}

func randomID() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteByte(letters[rand.Intn(len(letters))])
	}
	return b.String()
}
