/*
Copyright 2024 The SmartIP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package kafka reads the intervention change topic through a sarama
// consumer group and feeds each payload to the aggregation engine.
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/smartip/intervention-analytics/pkg/shared/logging"
)

// Processor consumes one raw change payload from a topic partition. The
// message key is ignored; value fields are authoritative.
type Processor interface {
	Process(partition int32, payload []byte) error
}

// Source is a consumer-group reader over the change topic. Offsets are
// marked after the processor has accepted the payload, giving at-least-once
// delivery; the sink's idempotent upserts absorb the replays.
type Source struct {
	// topic to consume messages from
	topic string
	// group name for the consumer group session
	groupName string
	// kafka brokers
	brokers []string
	// processor the payloads are handed to
	processor Processor
	// handler for the kafka consumer group
	handler *consumerHandler
	// sarama config for the consumer group
	config *sarama.Config
	// lifecycle context
	lifecycleCtx context.Context
	// context cancel function
	cancelFn context.CancelFunc
	// channel to indicate that the consumer loop is done
	stopCh chan struct{}
	// channel to indicate that the forward loop is done
	forwardDoneCh chan struct{}
	// client used to calculate pending messages
	adminClient sarama.ClusterAdmin
	// sarama client
	saramaClient sarama.Client
	// size of the buffer that holds consumed but yet to be processed messages
	handlerBuffer int
	// interval between pending-message calculations
	pendingInterval time.Duration
	logger          *zap.SugaredLogger
}

type Option func(*Source) error

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Source) error {
		s.logger = l
		return nil
	}
}

// WithBufferSize is used to return size of message channel information
func WithBufferSize(n int) Option {
	return func(s *Source) error {
		s.handlerBuffer = n
		return nil
	}
}

// NewSource returns a Source reading topic with the given consumer group.
// yamlConfig optionally overrides the sarama defaults.
func NewSource(brokers []string, topic, groupName, yamlConfig string, processor Processor, opts ...Option) (*Source, error) {
	source := &Source{
		topic:           topic,
		groupName:       groupName,
		brokers:         brokers,
		processor:       processor,
		handlerBuffer:   100,
		pendingInterval: 30 * time.Second,
		logger:          logging.NewLogger(),
	}
	for _, o := range opts {
		if err := o(source); err != nil {
			return nil, err
		}
	}

	config, err := configFromYAML(yamlConfig)
	if err != nil {
		return nil, fmt.Errorf("error reading kafka source config, %w", err)
	}
	// return errors from the underlying kafka client using the Errors channel
	config.Consumer.Return.Errors = true
	// state is rebuilt from the topic's retained history on restart
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	source.config = config

	sarama.Logger = zap.NewStdLog(source.logger.Desugar())

	ctx, cancel := context.WithCancel(context.Background())
	source.lifecycleCtx = ctx
	source.cancelFn = cancel
	source.stopCh = make(chan struct{})
	source.forwardDoneCh = make(chan struct{})
	source.handler = newConsumerHandler(source.handlerBuffer)
	return source, nil
}

// Start connects the clients and runs the consumer and forward loops until
// Close.
func (s *Source) Start() error {
	client, err := sarama.NewClient(s.brokers, s.config)
	if err != nil {
		return fmt.Errorf("failed to create sarama client, %w", err)
	}
	s.saramaClient = client
	adminClient, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		if !client.Closed() {
			_ = client.Close()
		}
		return fmt.Errorf("failed to create sarama cluster admin client, %w", err)
	}
	s.adminClient = adminClient

	go s.startConsumer()
	// wait for the consumer to set up.
	<-s.handler.ready
	s.logger.Info("Consumer ready. Starting kafka reader...")

	go s.forward()
	go s.pollPending()
	return nil
}

// pollPending refreshes the consumer group lag gauge until Close.
func (s *Source) pollPending() {
	ticker := time.NewTicker(s.pendingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.lifecycleCtx.Done():
			return
		case <-ticker.C:
			if _, err := s.Pending(); err != nil {
				s.logger.Errorw("Failed to calculate pending messages", zap.Error(err))
			}
		}
	}
}

// forward drains claimed messages, hands them to the processor and marks
// their offsets.
func (s *Source) forward() {
	defer close(s.forwardDoneCh)
	for {
		select {
		case <-s.lifecycleCtx.Done():
			return
		case m := <-s.handler.messages:
			readMessagesCount.WithLabelValues(s.topic).Inc()
			if err := s.processor.Process(m.Partition, m.Value); err != nil {
				// The engine swallows per-event problems itself; anything
				// surfacing here is unexpected but still must not stall
				// the stream.
				s.logger.Errorw("Failed to process message, skipping", zap.Int64("offset", m.Offset), zap.Error(err))
			}
			s.handler.sess.MarkMessage(m, "")
			ackMessagesCount.WithLabelValues(s.topic).Inc()
		}
	}
}

func (s *Source) startConsumer() {
	client, err := sarama.NewConsumerGroup(s.brokers, s.groupName, s.config)
	s.logger.Infow("creating NewConsumerGroup", zap.String("topic", s.topic), zap.String("consumerGroupName", s.groupName), zap.Strings("brokers", s.brokers))
	if err != nil {
		s.logger.Panicw("Problem initializing sarama client", zap.Error(err))
	}
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-s.lifecycleCtx.Done():
				return
			case cErr := <-client.Errors():
				s.logger.Errorw("Kafka consumer error", zap.Error(cErr))
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			// `Consume` should be called inside an infinite loop; when a
			// server-side re-balance happens, the consumer session will need
			// to be recreated to get the new claims
			if conErr := client.Consume(s.lifecycleCtx, []string{s.topic}, s.handler); conErr != nil {
				// Panic on errors to let it crash and restart the process
				s.logger.Panicw("Kafka consumer failed with error: ", zap.Error(conErr))
			}
			if s.lifecycleCtx.Err() != nil {
				return
			}
		}
	}()
	wg.Wait()
	_ = client.Close()
	close(s.stopCh)
}

// Pending returns the consumer group lag across the topic's partitions.
func (s *Source) Pending() (int64, error) {
	if s.adminClient == nil || s.saramaClient == nil {
		return 0, fmt.Errorf("kafka clients are not connected")
	}
	partitions, err := s.saramaClient.Partitions(s.topic)
	if err != nil {
		return 0, fmt.Errorf("failed to get partitions, %w", err)
	}
	totalPending := int64(0)
	rep, err := s.adminClient.ListConsumerGroupOffsets(s.groupName, map[string][]int32{s.topic: partitions})
	if err != nil {
		return 0, fmt.Errorf("failed to list consumer group offsets, %w", err)
	}
	for _, partition := range partitions {
		block := rep.GetBlock(s.topic, partition)
		if block.Offset == -1 {
			// No offset under the consumer group yet for this partition,
			// usually means no data was published to it; skip it.
			continue
		}
		partitionOffset, err := s.saramaClient.GetOffset(s.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return 0, fmt.Errorf("failed to get offset of topic %q, partition %v, %w", s.topic, partition, err)
		}
		totalPending += partitionOffset - block.Offset
	}
	pendingGauge.WithLabelValues(s.topic, s.groupName).Set(float64(totalPending))
	return totalPending, nil
}

// Close stops the loops, waits for them and shuts the clients down.
func (s *Source) Close() error {
	s.logger.Info("Closing kafka reader...")
	s.cancelFn()
	<-s.forwardDoneCh
	if s.adminClient != nil {
		// closes the underlying sarama client as well.
		if err := s.adminClient.Close(); err != nil {
			s.logger.Errorw("Error in closing kafka admin client", zap.Error(err))
		}
	}
	select {
	case <-s.stopCh:
	case <-time.After(5 * time.Second):
		s.logger.Warn("Timed out waiting for the consumer loop to stop")
	}
	s.logger.Info("Kafka reader closed")
	return nil
}
