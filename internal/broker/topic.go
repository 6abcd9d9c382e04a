// Package broker implements the exactly-once work queue shared by the
// Gateway (producer) and Worker (consumer) components, backed by
// Kafka-protocol brokers via franz-go.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// ensureTopic creates topic if it doesn't already exist, tolerating the
// TOPIC_ALREADY_EXISTS response (Kafka protocol error code 36).
func ensureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 {
		partitions = 1
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	topicReq.Configs = []kmsg.CreateTopicsRequestTopicConfig{
		{Name: "cleanup.policy", Value: stringPtr("delete")},
		{Name: "retention.ms", Value: stringPtr("604800000")},
		{Name: "min.insync.replicas", Value: stringPtr("1")},
		{Name: "message.timestamp.type", Value: stringPtr("CreateTime")},
	}
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=broker.ensureTopic topic=%s: %w", topic, err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=broker.ensureTopic topic=%s: unexpected response type %T", topic, resp)
	}

	for _, t := range createResp.Topics {
		if t.ErrorCode != 0 {
			if t.ErrorCode == 36 {
				slog.Info("topic already exists", slog.String("topic", t.Topic))
				return nil
			}
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("op=broker.ensureTopic topic=%s: %s (code %d)", topic, msg, t.ErrorCode)
		}
		slog.Info("topic ensured", slog.String("topic", t.Topic), slog.Int("partitions", int(partitions)))
	}
	return nil
}

func stringPtr(s string) *string { return &s }
