package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Console writes mail to the log instead of delivering it. Latency and
// FailureRate simulate a real transport in development.
type Console struct {
	Log         logrus.FieldLogger
	Latency     time.Duration
	FailureRate float64 // 0..1
}

func NewConsole(log logrus.FieldLogger) *Console { return &Console{Log: log} }

func (c *Console) Send(ctx context.Context, m Mail) (string, error) {
	if c.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", newError(KindConnection, ctx.Err())
		case <-time.After(c.Latency):
		}
	}
	if c.FailureRate > 0 && rand.Float64() < c.FailureRate {
		return "", newError(KindTransport, errors.New("simulated provider rejection"))
	}
	id := "console-" + uuid.NewString()
	c.Log.WithFields(logrus.Fields{
		"to":      m.To,
		"from":    m.From,
		"subject": m.Subject,
		"id":      id,
	}).Info("mail written to console")
	return id, nil
}
