package kafkax

import (
	"context"
	"sort"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// traceHeaders are the propagation keys carried as Kafka headers. They are
// transport metadata, not event attributes.
var traceHeaders = map[string]struct{}{
	"traceparent": {},
	"tracestate":  {},
	"baggage":     {},
}

func isTraceHeader(key string) bool {
	_, ok := traceHeaders[key]
	return ok
}

// InjectTraceHeaders sets the propagator's fields from ctx on headers,
// replacing any stale values, and returns the updated slice.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	keys := carrier.Keys()
	sort.Strings(keys)
	for _, k := range keys {
		headers = setHeader(headers, k, carrier[k])
	}
	return headers
}

// ExtractTraceContext returns ctx carrying the remote span found in msg.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range msg.Headers {
		if isTraceHeader(h.Key) {
			carrier[h.Key] = string(h.Value)
		}
	}
	if len(carrier) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

func setHeader(headers []kafka.Header, key, value string) []kafka.Header {
	for i := range headers {
		if headers[i].Key == key {
			headers[i].Value = []byte(value)
			return headers
		}
	}
	return append(headers, kafka.Header{Key: key, Value: []byte(value)})
}
