// internal/notification/push.go

package notification

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMPushService implements the push channel over Firebase Cloud
// Messaging
type FCMPushService struct {
	client *messaging.Client
}

// NewFCMPushService creates a push service from a service account file
func NewFCMPushService(ctx context.Context, credentialsFile string) (PushSender, error) {
	if credentialsFile == "" {
		return nil, fmt.Errorf("incomplete FCM configuration")
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize messaging client: %w", err)
	}

	return &FCMPushService{client: client}, nil
}

// SendPush delivers to every registered device token
func (s *FCMPushService) SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	resp, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		log.Printf("Failed to send push: %v", err)
		return err
	}

	if resp.FailureCount > 0 {
		log.Printf("Push delivered to %d/%d devices", resp.SuccessCount, len(tokens))
	}

	return nil
}

// MockPushService is a mock implementation for development and tests
type MockPushService struct {
	Sent [][]string
}

func NewMockPushService() *MockPushService {
	return &MockPushService{}
}

func (m *MockPushService) SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	m.Sent = append(m.Sent, tokens)
	log.Printf("[MOCK PUSH] %d tokens, title: %s", len(tokens), title)
	return nil
}
