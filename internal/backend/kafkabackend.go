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
	"crypto/tls"
	"encoding/json"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/utils"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

// Kafka message headers
const (
	HeaderCorrelationID = "x-correlation-id"
	HeaderReplyTo       = "x-reply-to"
	HeaderProcedure     = "x-procedure"
	HeaderEventTopic    = "x-event-topic"
	HeaderSessionID     = "x-session-id"
)

func init() {
	plugins.RegisterFactory("backend.kafka", plugins.KindBackend, func() plugins.Module {
		return NewKafkaBackend(&SaramaKafkaFactory{})
	})
}

type kafkaReply struct {
	payload []byte
	err     error
}

// KafkaBackend sends requests to collaborators on one topic, and matches
// replies from another topic by correlation ID. Collaborator events arrive
// on the reply topic too, and are emitted on the runtime.
type KafkaBackend struct {
	conf       *conf.BackendConf
	host       plugins.Host
	factory    KafkaFactory
	client     KafkaClient
	producer   KafkaProducer
	consumer   KafkaConsumer
	consumerWG sync.WaitGroup
	producerWG sync.WaitGroup
	mux        sync.Mutex
	sendLock   sync.RWMutex
	waiters    map[string]chan *kafkaReply
	started    bool
}

// NewKafkaBackend constructor
func NewKafkaBackend(factory KafkaFactory) *KafkaBackend {
	return &KafkaBackend{
		factory: factory,
		waiters: make(map[string]chan *kafkaReply),
	}
}

// KafkaValidateConf validates supplied configuration
func KafkaValidateConf(kconf *conf.KafkaConf) (err error) {
	if len(kconf.Brokers) == 0 || kconf.Brokers[0] == "" {
		return errors.Errorf(errors.ConfigKafkaMissingBrokers)
	}
	if kconf.TopicOut == "" {
		return errors.Errorf(errors.ConfigKafkaMissingOutputTopic)
	}
	if kconf.TopicIn == "" {
		return errors.Errorf(errors.ConfigKafkaMissingInputTopic)
	}
	if kconf.ConsumerGroup == "" {
		return errors.Errorf(errors.ConfigKafkaMissingConsumerGroup)
	}
	if !utils.AllOrNoneReqd(kconf.SASL.Username, kconf.SASL.Password) {
		return errors.Errorf(errors.ConfigKafkaMissingBadSASL)
	}
	return nil
}

// Configure reads and validates the Kafka section
func (k *KafkaBackend) Configure(host plugins.Host) error {
	k.host = host
	k.conf = &host.Config().Backend
	return KafkaValidateConf(&k.conf.Kafka)
}

// Init connects, and starts the producer and consumer loops
func (k *KafkaBackend) Init(ctx context.Context) (err error) {
	kconf := &k.conf.Kafka
	log.Debugf("Kafka Bootstrap brokers: %s", kconf.Brokers)

	sarama.Logger = saramaLogger{}
	clientConf := sarama.NewConfig()

	var tlsConfig *tls.Config
	if tlsConfig, err = utils.CreateTLSConfiguration(&kconf.TLS); err != nil {
		return
	}

	if kconf.SASL.Username != "" && kconf.SASL.Password != "" {
		clientConf.Net.SASL.Enable = true
		clientConf.Net.SASL.User = kconf.SASL.Username
		clientConf.Net.SASL.Password = kconf.SASL.Password
	}

	clientConf.Producer.Return.Successes = true
	clientConf.Producer.Return.Errors = true
	clientConf.Producer.RequiredAcks = sarama.WaitForLocal
	clientConf.Producer.Flush.Frequency = time.Duration(kconf.ProducerFlush.Frequency) * time.Millisecond
	clientConf.Producer.Flush.Messages = kconf.ProducerFlush.Messages
	clientConf.Producer.Flush.Bytes = kconf.ProducerFlush.Bytes
	clientConf.Metadata.Retry.Backoff = 2 * time.Second
	clientConf.Consumer.Return.Errors = true
	clientConf.Consumer.Offsets.Initial = sarama.OffsetNewest
	clientConf.Version = sarama.V2_0_0_0
	clientConf.Net.TLS.Enable = (tlsConfig != nil)
	clientConf.Net.TLS.Config = tlsConfig
	clientConf.ClientID = kconf.ClientID
	if clientConf.ClientID == "" {
		clientConf.ClientID = utils.UUIDv4()
	}
	log.Debugf("Kafka ClientID: %s", clientConf.ClientID)

	if k.client, err = k.factory.NewClient(kconf, clientConf); err != nil {
		log.Errorf("Failed to create Kafka client: %s", err)
		return
	}
	var brokers []string
	for _, broker := range k.client.Brokers() {
		brokers = append(brokers, broker.Addr())
	}
	log.Infof("Kafka Connected: %s", brokers)

	log.Debugf("Kafka Consumer Topic=%s ConsumerGroup=%s", kconf.TopicIn, kconf.ConsumerGroup)
	if k.consumer, err = k.client.NewConsumer(kconf); err != nil {
		log.Errorf("Failed to create Kafka consumer: %s", err)
		return
	}
	log.Debugf("Kafka Producer Topic=%s", kconf.TopicOut)
	if k.producer, err = k.client.NewProducer(kconf); err != nil {
		log.Errorf("Failed to create Kafka producer: %s", err)
		k.consumer.Close()
		return
	}

	k.consumerWG.Add(2)
	go k.consumerErrorLoop()
	go k.consumerMessagesLoop()
	k.producerWG.Add(2)
	go k.producerErrorLoop()
	go k.producerSuccessLoop()

	k.mux.Lock()
	k.started = true
	k.mux.Unlock()
	log.Debugf("Kafka initialization complete")
	return nil
}

// Shutdown closes the producer and consumer, and fails any call in flight
func (k *KafkaBackend) Shutdown(ctx context.Context) error {
	k.mux.Lock()
	wasStarted := k.started
	k.started = false
	k.mux.Unlock()
	if !wasStarted {
		return nil
	}
	k.sendLock.Lock()
	k.producer.AsyncClose()
	k.sendLock.Unlock()
	k.consumer.Close()
	k.producerWG.Wait()
	k.consumerWG.Wait()
	if k.client != nil {
		k.client.Close()
	}

	k.mux.Lock()
	defer k.mux.Unlock()
	for id, w := range k.waiters {
		w <- &kafkaReply{err: errors.Errorf(errors.BackendShutdown, id)}
		delete(k.waiters, id)
	}
	log.Infof("Kafka backend shut down")
	return nil
}

// Call sends a request and waits for the correlated reply
func (k *KafkaBackend) Call(ctx context.Context, component, procedure string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return observed(component, func() (interface{}, error) {
		return k.call(ctx, component, procedure, args, kwargs)
	})
}

func (k *KafkaBackend) call(ctx context.Context, component, procedure string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	id := utils.NewULID()
	payload, err := newRequest(id, component, procedure, args, kwargs)
	if err != nil {
		return nil, err
	}

	ctx, cancel, timeout := callContext(ctx, k.conf.Timeout())
	defer cancel()

	msg := &sarama.ProducerMessage{
		Topic: k.conf.Kafka.TopicOut,
		Key:   sarama.StringEncoder(component),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderCorrelationID), Value: []byte(id)},
			{Key: []byte(HeaderReplyTo), Value: []byte(k.conf.Kafka.TopicIn)},
			{Key: []byte(HeaderProcedure), Value: []byte(component + "." + procedure)},
		},
		Metadata: id,
	}
	if sid := sessionID(ctx); sid != "" {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(HeaderSessionID), Value: []byte(sid)})
	}
	log.Debugf("Kafka request %s: %s.%s", id, component, procedure)

	// the producer input is closed on shutdown, so sends hold the read lock
	waiter := make(chan *kafkaReply, 1)
	k.sendLock.RLock()
	k.mux.Lock()
	if !k.started {
		k.mux.Unlock()
		k.sendLock.RUnlock()
		return nil, errors.Errorf(errors.BackendNotStarted, "backend.kafka")
	}
	k.waiters[id] = waiter
	k.mux.Unlock()
	defer k.removeWaiter(id)
	select {
	case k.producer.Input() <- msg:
		k.sendLock.RUnlock()
	case <-ctx.Done():
		k.sendLock.RUnlock()
		return nil, waitError(ctx, component, procedure, timeout)
	}

	select {
	case reply := <-waiter:
		if reply.err != nil {
			return nil, reply.err
		}
		return ParseReply(id, reply.payload)
	case <-ctx.Done():
		log.Warnf("Kafka request %s (%s.%s) timed out", id, component, procedure)
		return nil, waitError(ctx, component, procedure, timeout)
	}
}

func (k *KafkaBackend) removeWaiter(id string) {
	k.mux.Lock()
	defer k.mux.Unlock()
	delete(k.waiters, id)
}

func (k *KafkaBackend) deliver(id string, reply *kafkaReply) bool {
	k.mux.Lock()
	defer k.mux.Unlock()
	w, ok := k.waiters[id]
	if ok {
		w <- reply
		delete(k.waiters, id)
	}
	return ok
}

func header(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (k *KafkaBackend) consumerMessagesLoop() {
	defer k.consumerWG.Done()
	for msg := range k.consumer.Messages() {
		if topic := header(msg, HeaderEventTopic); topic != "" {
			var event interface{}
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Errorf("Discarding unparseable event on '%s' (partition=%d offset=%d): %s", topic, msg.Partition, msg.Offset, err)
			} else {
				k.host.Emit(EventBackend, topic, event)
			}
		} else if id := header(msg, HeaderCorrelationID); id != "" {
			if !k.deliver(id, &kafkaReply{payload: msg.Value}) {
				log.Debugf("Kafka reply %s has no waiter (timed out, or for another gateway)", id)
			}
		} else {
			log.Warnf("Discarding Kafka message with no correlation or topic (partition=%d offset=%d)", msg.Partition, msg.Offset)
		}
		k.consumer.MarkOffset(msg, "")
	}
}

func (k *KafkaBackend) consumerErrorLoop() {
	defer k.consumerWG.Done()
	for err := range k.consumer.Errors() {
		log.Error("Kafka consumer failed:", err)
	}
}

func (k *KafkaBackend) producerErrorLoop() {
	defer k.producerWG.Done()
	for err := range k.producer.Errors() {
		if err.Msg == nil || err.Msg.Metadata == nil {
			log.Errorf(errors.Errorf(errors.BackendKafkaUnexpectedErrFmt, err).Error())
			continue
		}
		id, _ := err.Msg.Metadata.(string)
		log.Errorf("Kafka producer failed for request %s: %s", id, err.Err)
		k.deliver(id, &kafkaReply{err: errors.Errorf(errors.BackendKafkaSendFailed, id, err.Err)})
	}
}

func (k *KafkaBackend) producerSuccessLoop() {
	defer k.producerWG.Done()
	for msg := range k.producer.Successes() {
		log.Debugf("Kafka request %v sent (partition=%d offset=%d)", msg.Metadata, msg.Partition, msg.Offset)
	}
}
