package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"voicebridge-backend/pkg/logger"
)

// FCMProvider implements Provider using Firebase Cloud Messaging
type FCMProvider struct {
	client *messaging.Client
}

// FCMConfig contains configuration for the FCM provider
type FCMConfig struct {
	CredentialsPath string // Path to service account JSON file
	CredentialsJSON []byte // Service account JSON content (alternative to file path)
	ProjectID       string
}

// NewFCMProvider creates a new FCM provider
func NewFCMProvider(ctx context.Context, config *FCMConfig) (*FCMProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("FCM config is required")
	}

	var opts []option.ClientOption
	if len(config.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(config.CredentialsJSON))
	} else if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		return nil, fmt.Errorf("either CredentialsPath or CredentialsJSON must be provided")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: config.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	logger.Info("FCM provider initialized", zap.String("project_id", config.ProjectID))

	return &FCMProvider{client: client}, nil
}

// Send delivers a notification to all tokens in one multicast. Individual
// token failures are logged, not returned; stale tokens expire from the store
// on their own TTL.
func (f *FCMProvider) Send(ctx context.Context, tokens []string, notification *Notification) error {
	if len(tokens) == 0 {
		return nil
	}

	msg := &messaging.MulticastMessage{
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data:   notification.Data,
		Tokens: tokens,
	}

	resp, err := f.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send FCM multicast: %w", err)
	}

	if resp.FailureCount > 0 {
		logger.Warn("some push notifications failed",
			zap.Int("success", resp.SuccessCount),
			zap.Int("failure", resp.FailureCount))
	}

	return nil
}
