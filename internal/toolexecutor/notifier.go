package toolexecutor

import "context"

// notificationProvider/notificationTool name the reserved registry slot
// a deployment's notification channel is registered under. Spec §4.5
// treats "notify" as "a specialized tool call to the user's notification
// channel; subject to the same failure policy as tool" — so Notify is a
// thin Registry.Execute call against a fixed (provider, tool) pair
// rather than a separate dispatch mechanism.
const (
	notificationProvider = "notification"
	notificationTool     = "send"
)

// Notifier adapts Registry to runtime.Notifier, routing every "notify"
// action through the same validated Execute seam as an ordinary tool
// call (spec §4.5).
type Notifier struct {
	registry *Registry
}

// NewNotifier wraps registry as a runtime.Notifier. Callers register the
// deployment's actual notification channel (email, Slack webhook, SMS)
// under (notification, send) the same way they register any other tool.
func NewNotifier(registry *Registry) *Notifier {
	return &Notifier{registry: registry}
}

func (n *Notifier) Notify(ctx context.Context, userID string, payload map[string]any) error {
	_, err := n.registry.Execute(ctx, userID, notificationProvider, notificationTool, payload)
	return err
}
