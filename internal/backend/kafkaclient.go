// Copyright 2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"context"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/hyperledger/firefly-exgateway/internal/conf"
	log "github.com/sirupsen/logrus"
)

// KafkaProducer provides the interface used to send requests (subset of sarama)
type KafkaProducer interface {
	AsyncClose()
	Input() chan<- *sarama.ProducerMessage
	Successes() <-chan *sarama.ProducerMessage
	Errors() <-chan *sarama.ProducerError
}

// KafkaConsumer provides the interface used to receive replies and events
type KafkaConsumer interface {
	Close() error
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan error
	MarkOffset(*sarama.ConsumerMessage, string)
}

// KafkaFactory builds Kafka clients
type KafkaFactory interface {
	NewClient(*conf.KafkaConf, *sarama.Config) (KafkaClient, error)
}

// KafkaClient is the connection, from which the producer and consumer are built
type KafkaClient interface {
	NewProducer(*conf.KafkaConf) (KafkaProducer, error)
	NewConsumer(*conf.KafkaConf) (KafkaConsumer, error)
	Brokers() []*sarama.Broker
	Close() error
}

// SaramaKafkaFactory - implementation of KafkaFactory
type SaramaKafkaFactory struct{}

// NewClient - returns a new client
func (f *SaramaKafkaFactory) NewClient(k *conf.KafkaConf, clientConf *sarama.Config) (c KafkaClient, err error) {
	var client sarama.Client
	if client, err = sarama.NewClient(k.Brokers, clientConf); err == nil {
		c = &saramaKafkaClient{client: client}
	}
	return
}

type saramaKafkaClient struct {
	client sarama.Client
}

func (c *saramaKafkaClient) Brokers() []*sarama.Broker {
	return c.client.Brokers()
}

func (c *saramaKafkaClient) Close() error {
	return c.client.Close()
}

func (c *saramaKafkaClient) NewProducer(k *conf.KafkaConf) (KafkaProducer, error) {
	return sarama.NewAsyncProducerFromClient(c.client)
}

func (c *saramaKafkaClient) NewConsumer(k *conf.KafkaConf) (KafkaConsumer, error) {
	group, err := sarama.NewConsumerGroupFromClient(k.ConsumerGroup, c.client)
	if err != nil {
		return nil, err
	}
	return newGroupConsumer(group, k.TopicIn), nil
}

// groupConsumer adapts a sarama consumer group to a single message channel
type groupConsumer struct {
	group    sarama.ConsumerGroup
	topic    string
	messages chan *sarama.ConsumerMessage
	ctx      context.Context
	cancel   context.CancelFunc
	mux      sync.Mutex
	session  sarama.ConsumerGroupSession
	done     chan struct{}
}

func newGroupConsumer(group sarama.ConsumerGroup, topic string) *groupConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	gc := &groupConsumer{
		group:    group,
		topic:    topic,
		messages: make(chan *sarama.ConsumerMessage),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go gc.consumeLoop()
	return gc
}

func (gc *groupConsumer) consumeLoop() {
	defer close(gc.done)
	defer close(gc.messages)
	for gc.ctx.Err() == nil {
		// Consume returns on every rebalance
		if err := gc.group.Consume(gc.ctx, []string{gc.topic}, gc); err != nil {
			if err == sarama.ErrClosedConsumerGroup {
				return
			}
			log.Errorf("Kafka consumer group error: %s", err)
		}
	}
}

func (gc *groupConsumer) Setup(session sarama.ConsumerGroupSession) error {
	gc.mux.Lock()
	defer gc.mux.Unlock()
	gc.session = session
	log.Infof("Kafka consumer group session started (generation=%d)", session.GenerationID())
	return nil
}

func (gc *groupConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	gc.mux.Lock()
	defer gc.mux.Unlock()
	gc.session = nil
	return nil
}

func (gc *groupConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		select {
		case gc.messages <- msg:
		case <-session.Context().Done():
			return nil
		}
	}
	return nil
}

func (gc *groupConsumer) Messages() <-chan *sarama.ConsumerMessage {
	return gc.messages
}

func (gc *groupConsumer) Errors() <-chan error {
	return gc.group.Errors()
}

func (gc *groupConsumer) MarkOffset(msg *sarama.ConsumerMessage, metadata string) {
	gc.mux.Lock()
	defer gc.mux.Unlock()
	if gc.session != nil {
		gc.session.MarkMessage(msg, metadata)
	}
}

func (gc *groupConsumer) Close() error {
	gc.cancel()
	err := gc.group.Close()
	<-gc.done
	return err
}

type saramaLogger struct{}

func (s saramaLogger) Print(v ...interface{}) {
	v = append([]interface{}{"[sarama] "}, v...)
	log.Debug(v...)
}

func (s saramaLogger) Printf(format string, v ...interface{}) {
	log.Debugf("[sarama] "+format, v...)
}

func (s saramaLogger) Println(v ...interface{}) {
	v = append([]interface{}{"[sarama] "}, v...)
	log.Debug(v...)
}
