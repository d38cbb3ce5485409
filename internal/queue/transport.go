// Pagesync - Paginated Upstream Sync Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagesync

/*
Package queue carries pipeline continuation jobs between runner steps.

A Transport is a Watermill publisher/subscriber pair. Two are provided:

  - NATS JetStream (durable, shared by every process of a deployment)
  - Go channels (single process, nothing survives a restart)

Dispatcher publishes jobs; Consumer runs a Watermill router that decodes them
and hands each one to the runner. Jobs that cannot be processed end up on a
poison topic, where the lock they name is released so the scope can be
triggered again.
*/
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/pagesync/internal/broker"
	"github.com/tomtom215/pagesync/internal/logging"
)

// Transport kinds.
const (
	KindNATS      = "nats"
	KindGoChannel = "gochannel"
)

// Transport is the publisher/subscriber pair jobs travel over.
type Transport struct {
	Kind       string
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and the subscriber.
func (t *Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	// A go channel transport uses one object for both sides.
	if t.Subscriber != nil && t.Kind != KindGoChannel {
		if err := t.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Logger returns the Watermill logger adapter writing through zerolog.
func Logger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

// NewGoChannel returns an in-process transport.
func NewGoChannel(logger watermill.LoggerAdapter) *Transport {
	if logger == nil {
		logger = Logger()
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return &Transport{Kind: KindGoChannel, Publisher: pubSub, Subscriber: pubSub}
}

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	Conn             broker.ConnConfig
	DurablePrefix    string
	QueueGroup       string
	SubscribersCount int
	AckWait          time.Duration
	MaxDeliver       int
	CloseTimeout     time.Duration
}

// DefaultNATSConfig returns production defaults for a broker at url.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		Conn:             broker.DefaultConnConfig(url),
		DurablePrefix:    "pagesync",
		QueueGroup:       "pagesync",
		SubscribersCount: 4,
		AckWait:          5 * time.Minute,
		MaxDeliver:       10,
		CloseTimeout:     30 * time.Second,
	}
}

// NewNATS returns a JetStream transport. Streams are provisioned on first use,
// and every publish carries a Nats-Msg-Id so the broker drops duplicates.
func NewNATS(cfg NATSConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	if logger == nil {
		logger = Logger()
	}
	natsOpts := append(cfg.Conn.NatsOptions(), natsgo.RetryOnFailedConnect(true))

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.Conn.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.Conn.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWait,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxDeliver(cfg.MaxDeliver),
				natsgo.AckWait(cfg.AckWait),
				natsgo.DeliverAll(),
			},
			DurablePrefix: cfg.DurablePrefix,
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Transport{Kind: KindNATS, Publisher: pub, Subscriber: sub}, nil
}
