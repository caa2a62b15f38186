package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// ValkeyNotifier publishes events as JSON on a valkey pub/sub channel.
type ValkeyNotifier struct {
	client  valkey.Client
	channel string
}

func NewValkeyNotifier(client valkey.Client, channel string) *ValkeyNotifier {
	return &ValkeyNotifier{client: client, channel: channel}
}

// DialValkey connects to a single valkey node.
func DialValkey(addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("notify: connect valkey %s: %w", addr, err)
	}
	return client, nil
}

func (n *ValkeyNotifier) Notify(ctx context.Context, event Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}
	cmd := n.client.B().Publish().Channel(n.channel).Message(msg).Build()
	if err := n.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", event.Type, err)
	}
	return nil
}

func encode(event Event) (string, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("notify: encode %s: %w", event.Type, err)
	}
	return string(b), nil
}
