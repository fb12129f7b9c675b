package toolexecutor

import (
	"context"
	"testing"
)

func TestNotifierRoutesThroughRegisteredNotificationTool(t *testing.T) {
	r := NewRegistry()
	var gotUserID string
	var gotPayload map[string]any
	if err := r.Register(&Tool{
		Provider: notificationProvider, Name: notificationTool,
		Invoke: func(ctx context.Context, userID string, inputs map[string]any) (map[string]any, error) {
			gotUserID = userID
			gotPayload = inputs
			return map[string]any{}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	n := NewNotifier(r)
	if err := n.Notify(context.Background(), "user1", map[string]any{"subject": "hi"}); err != nil {
		t.Fatal(err)
	}
	if gotUserID != "user1" || gotPayload["subject"] != "hi" {
		t.Fatalf("notify delegated with userID=%q payload=%+v", gotUserID, gotPayload)
	}
}

func TestNotifierFailsWhenNoChannelRegistered(t *testing.T) {
	n := NewNotifier(NewRegistry())
	if err := n.Notify(context.Background(), "user1", map[string]any{}); err == nil {
		t.Fatal("expected an error when no notification channel is registered")
	}
}
