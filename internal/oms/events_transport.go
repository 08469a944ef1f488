package oms

import (
	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsio "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
)

// NewGoChannelBus builds the in-process pub/sub the OMS event stream
// runs over by default. bufferSize bounds each subscriber's channel;
// a slow subscriber whose buffer fills drops messages, per spec §6
// ("missed events on a slow subscriber are dropped — the durable log
// is authoritative for replay").
func NewGoChannelBus(bufferSize int64, logger *zap.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            bufferSize,
			BlockPublishUntilSubscriberAck: false,
		},
		zapWatermillAdapter{logger: logger},
	)
}

// NewNATSPublisher builds a NATS-backed publisher for deployments
// where OMS events must leave the process.
func NewNATSPublisher(url string, logger *zap.Logger) (message.Publisher, error) {
	if url == "" {
		url = natsio.DefaultURL
	}
	pub, err := wmnats.NewPublisher(
		wmnats.PublisherConfig{
			URL:       url,
			Marshaler: wmnats.GobMarshaler{},
		},
		zapWatermillAdapter{logger: logger},
	)
	if err != nil {
		return nil, trerr.Wrap(err, trerr.ErrVenue, "connecting NATS event publisher")
	}
	return pub, nil
}

// zapWatermillAdapter routes watermill's internal logging through the
// shared zap logger so the bus doesn't write to stderr on its own.
type zapWatermillAdapter struct {
	logger *zap.Logger
	fields watermill.LogFields
}

func (a zapWatermillAdapter) zapFields(extra watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(a.fields)+len(extra))
	for k, v := range a.fields {
		out = append(out, zap.Any(k, v))
	}
	for k, v := range extra {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a zapWatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	if a.logger != nil {
		a.logger.Error(msg, append(a.zapFields(fields), zap.Error(err))...)
	}
}

func (a zapWatermillAdapter) Info(msg string, fields watermill.LogFields) {
	if a.logger != nil {
		a.logger.Info(msg, a.zapFields(fields)...)
	}
}

func (a zapWatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	if a.logger != nil {
		a.logger.Debug(msg, a.zapFields(fields)...)
	}
}

func (a zapWatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	if a.logger != nil {
		a.logger.Debug(msg, a.zapFields(fields)...)
	}
}

func (a zapWatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := make(watermill.LogFields, len(a.fields)+len(fields))
	for k, v := range a.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return zapWatermillAdapter{logger: a.logger, fields: merged}
}
