package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/k1networth/cdc-relay/internal/cdc"
)

// SQS service limits for ReceiveMessage.
const (
	sqsMaxMessages = 10
	sqsMaxWait     = 20
)

type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQS struct {
	api      SQSAPI
	queueURL string
}

func NewSQS(api SQSAPI, queueURL string) *SQS {
	return &SQS{api: api, queueURL: queueURL}
}

func (q *SQS) Name() string { return q.queueURL }

func (q *SQS) Receive(ctx context.Context, opts ReceiveOptions) ([]cdc.RawQueueMessage, error) {
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.queueURL),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameAll},
		MessageAttributeNames:       []string{"All"},
		MaxNumberOfMessages:         clamp(int32(opts.MaxMessages), 1, sqsMaxMessages),
		VisibilityTimeout:           int32(opts.VisibilityTimeout.Seconds()),
		WaitTimeSeconds:             clamp(int32(opts.WaitTime.Seconds()), 0, sqsMaxWait),
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]cdc.RawQueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, cdc.RawQueueMessage{
			MessageID:     m.MessageId,
			ReceiptHandle: m.ReceiptHandle,
			Body:          m.Body,
		})
	}
	return msgs, nil
}

// Delete fails when the receipt handle is invalid or has expired.
func (q *SQS) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}

func clamp(v, lo, hi int32) int32 {
	return max(lo, min(v, hi))
}
