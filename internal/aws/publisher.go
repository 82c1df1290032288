package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is one queue message. GroupID and DedupID only apply to FIFO
// queues and are ignored otherwise.
type Message struct {
	Body       string
	Attributes map[string]string
	GroupID    string
	DedupID    string
}

// Publisher sends messages to one SQS queue.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{SQS: sqsClient, QueueURL: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}
}

// Publish sends m. Attributes with empty values are skipped.
func (p *Publisher) Publish(ctx context.Context, m Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &m.Body,
	}
	for k, v := range m.Attributes {
		if v == "" {
			continue
		}
		if input.MessageAttributes == nil {
			input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{}
		}
		input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	if p.fifo {
		if m.GroupID == "" {
			return fmt.Errorf("send message: fifo queue requires a group id")
		}
		input.MessageGroupId = awsString(m.GroupID)
		if m.DedupID != "" {
			input.MessageDeduplicationId = awsString(m.DedupID)
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
