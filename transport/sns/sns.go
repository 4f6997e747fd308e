// Package sns provides a publish-only AWS SNS transport for the relay event
// bus. Consumers subscribe to the topic from SQS or another SNS endpoint and
// are outside this process, so Subscribe is not supported.
package sns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AshkanYarmoradi/go-relay"
	"github.com/AshkanYarmoradi/go-relay/transport"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Message attribute names set on every publish.
const (
	AttributeName    = "relay-name"
	AttributeEventID = "relay-event-id"
)

// ErrSubscribeUnsupported is returned by Subscribe.
var ErrSubscribeUnsupported = errors.New("relay/sns: subscribe is not supported, consume the topic from SQS")

// SNSClient defines the subset of the SNS API used by the transport.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Transport publishes envelopes to SNS topics.
// A topic resolves to an ARN through WithTopicARN, then WithTopicARNPrefix;
// a topic that already is an ARN is used as is.
type Transport struct {
	transport.Config

	client         SNSClient
	arns           map[string]string
	arnPrefix      string
	messageGroupID string
}

var _ relay.Transport = (*Transport)(nil)

// Option configures an SNS Transport.
type Option func(*Transport)

// WithSNSClient sets the SNS client.
func WithSNSClient(client SNSClient) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithTopicARN maps topic to a topic ARN.
func WithTopicARN(topic, arn string) Option {
	return func(t *Transport) {
		t.arns[topic] = arn
	}
}

// WithTopicARNPrefix resolves unmapped topics as prefix+topic,
// e.g. "arn:aws:sns:us-east-1:123456789012:".
func WithTopicARNPrefix(prefix string) Option {
	return func(t *Transport) {
		t.arnPrefix = prefix
	}
}

// WithMessageGroupID sets the message group ID for FIFO topics. The
// envelope key is then used as deduplication ID.
func WithMessageGroupID(groupID string) Option {
	return func(t *Transport) {
		t.messageGroupID = groupID
	}
}

// WithConfig applies shared transport options.
func WithConfig(opts ...transport.Option) Option {
	return func(t *Transport) {
		for _, opt := range opts {
			opt(&t.Config)
		}
	}
}

// New creates a new SNS Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		Config: transport.NewConfig(),
		arns:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Name returns "sns".
func (t *Transport) Name() string {
	return "sns"
}

// Connect checks that a client is configured.
func (t *Transport) Connect(ctx context.Context) error {
	if t.client == nil {
		return relay.NewTransportError(t.Name(), "connect", fmt.Errorf("client not configured"))
	}
	t.Logger.Info("SNS transport connected")
	return nil
}

// TopicARN returns the ARN topic resolves to, or "" if it resolves to none.
func (t *Transport) TopicARN(topic string) string {
	if arn, ok := t.arns[topic]; ok {
		return arn
	}
	if strings.HasPrefix(topic, "arn:") {
		return topic
	}
	if t.arnPrefix != "" {
		return t.arnPrefix + topic
	}
	return ""
}

// HandleEvent publishes env to the SNS topic of topic.
func (t *Transport) HandleEvent(ctx context.Context, env *relay.Integration, topic string) error {
	if t.client == nil {
		return relay.NewTransportError(t.Name(), "publish", transport.ErrNotConnected)
	}

	topicARN := t.TopicARN(topic)
	if topicARN == "" {
		return relay.NewTransportError(t.Name(), "publish", fmt.Errorf("no topic ARN for %q", topic))
	}

	body, err := t.Codec.Encode(env)
	if err != nil {
		return relay.NewTransportError(t.Name(), "encode", err)
	}

	input := &sns.PublishInput{
		TopicArn: &topicARN,
		Message:  stringPtr(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			AttributeName:    {DataType: stringPtr("String"), StringValue: stringPtr(env.Name())},
			AttributeEventID: {DataType: stringPtr("String"), StringValue: stringPtr(env.EventID())},
		},
	}

	// Set message group ID for FIFO topics
	if t.messageGroupID != "" {
		input.MessageGroupId = &t.messageGroupID
		input.MessageDeduplicationId = stringPtr(env.Key())
	}

	out, err := t.client.Publish(ctx, input)
	if err != nil {
		return relay.NewTransportError(t.Name(), "publish to "+topicARN, err)
	}

	var messageID string
	if out != nil && out.MessageId != nil {
		messageID = *out.MessageId
	}
	t.Logger.Debug("Published event", "topic", topicARN, "key", env.Key(), "messageId", messageID)
	t.Published(env)
	return nil
}

// Subscribe always fails with ErrSubscribeUnsupported.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler relay.IntegrationHandler) error {
	return relay.NewTransportError(t.Name(), "subscribe "+topic, ErrSubscribeUnsupported)
}

// Unsubscribe warns; there is never an active subscription.
func (t *Transport) Unsubscribe(ctx context.Context, topic string) error {
	t.Logger.Warn("No active subscription found", "topic", topic)
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (t *Transport) Close() error {
	return nil
}

func stringPtr(s string) *string {
	return &s
}
