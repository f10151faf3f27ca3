/*
 * Copyright 2024-present Open Networking Foundation
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package inspect

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// KafkaSink publishes rendered entries as JSON records keyed by device
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous producer to the brokers
func NewKafkaSink(brokers []string, topic string, clientID string) (*KafkaSink, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	logger.Infow(context.Background(), "audit-sink-connected", log.Fields{"brokers": brokers, "topic": topic})
	return NewKafkaSinkWithProducer(producer, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Publish(ctx context.Context, entry *RenderedEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(entry.Device),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return err
	}
	logger.Debugw(ctx, "audit-record-published", log.Fields{"device": entry.Device, "table": entry.Table, "partition": partition, "offset": offset})
	return nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
