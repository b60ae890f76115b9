package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/resend/resend-go/v2"
)

// Credentials are what the Resend API needs to send on our behalf.
type Credentials struct {
	APIKey string
	From   string
}

// CredentialsFunc resolves Credentials. It may hit a secret store, so it is
// called lazily on the first send rather than at construction.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

// StaticCredentials returns a CredentialsFunc for values known up front.
func StaticCredentials(apiKey, from string) CredentialsFunc {
	return func(context.Context) (Credentials, error) {
		if apiKey == "" {
			return Credentials{}, errors.New("notify: resend api key is empty")
		}
		if from == "" {
			return Credentials{}, errors.New("notify: sender address is empty")
		}
		return Credentials{APIKey: apiKey, From: from}, nil
	}
}

// emailClient is the part of the Resend SDK this package uses.
type emailClient interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

func newResendClient(apiKey string) emailClient {
	return resend.NewClient(apiKey).Emails
}

// ResendSender delivers through the Resend API.
//
// Credentials are fetched once, on first use, and the client built from them
// is reused for the life of the sender. A failed fetch is not cached: the next
// Send tries again.
type ResendSender struct {
	credentials CredentialsFunc
	newClient   func(apiKey string) emailClient

	mu     sync.Mutex
	client emailClient
	from   string
}

func NewResendSender(credentials CredentialsFunc) *ResendSender {
	return &ResendSender{credentials: credentials, newClient: newResendClient}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	client, from, err := s.resolve(ctx)
	if err != nil {
		return err
	}

	_, err = client.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("notify: resend: %w", err)
	}
	return nil
}

func (s *ResendSender) resolve(ctx context.Context) (emailClient, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, s.from, nil
	}

	creds, err := s.credentials(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("notify: resolving resend credentials: %w", err)
	}
	s.client = s.newClient(creds.APIKey)
	s.from = creds.From
	return s.client, s.from, nil
}
