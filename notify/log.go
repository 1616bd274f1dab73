package notify

import (
	"context"

	"github.com/MrEthical07/kennelguard/store"
	"go.uber.org/zap"
)

// LogNotifier logs messages instead of delivering them. The reset link
// carries a live token, so use it only where logs are private.
type LogNotifier struct {
	log     *zap.Logger
	linkURL string
}

// NewLogNotifier returns a notifier writing to log under the "notify" name.
// linkURL is passed to ResetLink.
func NewLogNotifier(log *zap.Logger, linkURL string) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify"), linkURL: linkURL}
}

func (n *LogNotifier) SendResetLink(_ context.Context, identity store.Identity, rawToken string) error {
	n.log.Info("password reset link",
		zap.Int64("identity_id", identity.ID),
		zap.String("to", identity.CredentialID),
		zap.String("link", ResetLink(n.linkURL, rawToken)),
	)
	return nil
}

func (n *LogNotifier) SendPasswordChangedNotice(_ context.Context, identity store.Identity) error {
	n.log.Info("password changed notice",
		zap.Int64("identity_id", identity.ID),
		zap.String("to", identity.CredentialID),
	)
	return nil
}
