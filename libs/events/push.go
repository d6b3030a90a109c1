package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

var (
	// ErrMalformedPayload covers absent data, bad base64 and non-JSON bodies.
	ErrMalformedPayload = errors.New("malformed push payload")
	// ErrInvalidEnvelope covers JSON that does not satisfy the envelope schema.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// IsClientError reports whether err is a decode failure that redelivery
// cannot fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrInvalidEnvelope)
}

// PushMessage mirrors the Pub/Sub push message shape.
type PushMessage struct {
	MessageID   string            `json:"messageId"`
	Data        string            `json:"data,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime string            `json:"publishTime"`
}

type PushBody struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// ParsePushBody decodes the outer push request JSON.
func ParsePushBody(r io.Reader) (PushBody, error) {
	var body PushBody
	dec := json.NewDecoder(r)
	if err := dec.Decode(&body); err != nil {
		return PushBody{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return body, nil
}

// DecodePush turns a push body into a validated envelope. It has no side
// effects; callers acknowledge on any error it returns.
func DecodePush(body PushBody) (Envelope, error) {
	if body.Message.Data == "" {
		return Envelope{}, fmt.Errorf("%w: empty message data", ErrMalformedPayload)
	}
	raw, err := base64.StdEncoding.DecodeString(body.Message.Data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return DecodeEnvelope(raw)
}

// DecodeEnvelope validates raw envelope JSON against the schema and binds it.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	if len(raw) == 0 || !utf8.Valid(raw) {
		return Envelope{}, fmt.Errorf("%w: data is not utf-8", ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := compiledEnvelopeSchema.Validate(doc); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	env.Timestamp = env.Timestamp.UTC()
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	return env, nil
}

// EncodePush wraps an encoded envelope into a push body.
func EncodePush(e Envelope, messageID string, attributes map[string]string, subscription string) (PushBody, error) {
	raw, err := Encode(e)
	if err != nil {
		return PushBody{}, err
	}
	return WrapPush(raw, messageID, attributes, time.Now().UTC(), subscription), nil
}

// WrapPush wraps already-encoded envelope bytes into a push body.
func WrapPush(raw []byte, messageID string, attributes map[string]string, publishTime time.Time, subscription string) PushBody {
	if attributes == nil {
		attributes = map[string]string{}
	}
	return PushBody{
		Message: PushMessage{
			MessageID:   messageID,
			Data:        base64.StdEncoding.EncodeToString(raw),
			Attributes:  attributes,
			PublishTime: publishTime.UTC().Format(time.RFC3339Nano),
		},
		Subscription: subscription,
	}
}
