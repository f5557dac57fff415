package lightning

import (
	"context"
	"errors"
	"log"
)

// Payer delivers a reward payout to a user's wallet.
type Payer struct {
	client *Client
	logger *log.Logger
}

// NewPayer wraps a Client for reward delivery.
func NewPayer(client *Client, logger *log.Logger) *Payer {
	if logger == nil {
		logger = log.Default()
	}
	return &Payer{client: client, logger: logger}
}

// SendReward pays amountSats to the user's wallet. A stale bearer token is
// refreshed once before giving up; all other failures surface to the caller,
// who decides whether to retry based on the error class.
func (p *Payer) SendReward(ctx context.Context, toUsername string, amountSats int64, memo string) (PaymentResult, error) {
	result, err := p.client.SendInternal(ctx, toUsername, amountSats, memo)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Class == ClassAuthExpired {
		p.logger.Printf("[lightning] token expired, re-authenticating")
		p.client.InvalidateToken()
		if loginErr := p.client.Login(ctx); loginErr != nil {
			return PaymentResult{}, loginErr
		}
		return p.client.SendInternal(ctx, toUsername, amountSats, memo)
	}
	return result, err
}
