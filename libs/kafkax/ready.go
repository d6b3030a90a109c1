package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck succeeds once any broker answers. With a topic it also requires
// the topic to have partitions, so a consumer or producer would not stall on
// a missing topic.
func ReadyCheck(brokers []string, topic string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		var errs []error
		for _, broker := range brokers {
			conn, err := dialer.DialContext(ctx, "tcp", broker)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			err = checkTopic(conn, topic)
			_ = conn.Close()
			return err
		}
		return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
	}
}

func checkTopic(conn *kafka.Conn, topic string) error {
	if topic == "" {
		return nil
	}
	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return fmt.Errorf("topic %s: %w", topic, err)
	}
	if len(partitions) == 0 {
		return fmt.Errorf("topic %s has no partitions", topic)
	}
	return nil
}
