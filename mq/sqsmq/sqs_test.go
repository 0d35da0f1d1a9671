package sqsmq

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zlnvch/surveycanvas/mq"
)

type fakeSQS struct {
	sent     []string
	messages []types.Message
	deleted  []string
	lastWait int32
	lastAttr []types.MessageSystemAttributeName
}

func (f *fakeSQS) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("http://localhost:4566/000000000000/" + aws.ToString(params.QueueName))}, nil
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.lastWait = params.WaitTimeSeconds
	f.lastAttr = params.MessageSystemAttributeNames
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSMessageQueue_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSQS{}

	q, err := newQueue(ctx, fake, mq.DeleteProjectDrawingsQueue)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566/000000000000/DeleteProjectDrawingsQueue", q.queueURL)

	require.NoError(t, q.Send(ctx, `{"projectId":"p-1"}`))
	assert.Equal(t, []string{`{"projectId":"p-1"}`}, fake.sent)

	msg, err := q.Receive(ctx, 30)
	require.NoError(t, err)
	assert.Nil(t, msg, "empty poll yields no message")
	assert.Equal(t, int32(20), fake.lastWait)

	fake.messages = []types.Message{{
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"projectId":"p-1"}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	}}
	msg, err = q.Receive(ctx, 30)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "rh-1", msg.Id)
	assert.Equal(t, 3, msg.Attempt)
	assert.Contains(t, fake.lastAttr, types.MessageSystemAttributeNameApproximateReceiveCount)

	require.NoError(t, q.Delete(ctx, msg))
	assert.Equal(t, []string{"rh-1"}, fake.deleted)
}
