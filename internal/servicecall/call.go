package servicecall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/bridge"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
)

// ErrInvalidCall is returned for a missing target or method.
var ErrInvalidCall = errors.New("servicecall: invalid call")

// Session is the part of a bridge session a call needs.
type Session interface {
	State() bridge.State
	Subscribe(ctx context.Context, topic string, qos byte) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// Options tune one call. The zero value publishes at QoS 0 without retain
// and subscribes to the reply topic first.
type Options struct {
	QoS                byte
	Retain             bool
	SkipReplySubscribe bool
}

// Envelope is the published request body.
type Envelope struct {
	Tid       string          `json:"tid"`
	Bid       string          `json:"bid"`
	Timestamp int64           `json:"timestamp"`
	Method    string          `json:"method"`
	Data      json.RawMessage `json:"data"`
}

// Call describes an issued request.
type Call struct {
	Tid        string          `json:"tid"`
	Bid        string          `json:"bid"`
	Method     string          `json:"method"`
	Topic      string          `json:"topic"`
	ReplyTopic string          `json:"replyTopic"`
	Payload    json.RawMessage `json:"payload"`
}

// Result converts c into its client notification.
func (c Call) Result() bridge.ServiceCallResult {
	return bridge.ServiceCallResult{
		Tid:        c.Tid,
		Bid:        c.Bid,
		Method:     c.Method,
		Topic:      c.Topic,
		ReplyTopic: c.ReplyTopic,
		Payload:    c.Payload,
	}
}

// Correlator builds and sends service calls.
type Correlator struct {
	topics mqtt.Topics
	logger *logging.Logger
	now    func() time.Time
}

// NewCorrelator creates a correlator for the given topic namespace.
func NewCorrelator(topics mqtt.Topics, logger *logging.Logger) *Correlator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Correlator{
		topics: topics,
		logger: logger.With("component", "servicecall"),
		now:    time.Now,
	}
}

// Call sends method with data to target through s.
//
// The session must be Connected. Unless opts.SkipReplySubscribe is set the
// reply topic is subscribed first; a failed subscribe is logged and the
// request is published anyway. data may be nil, a json.RawMessage or any
// value encoding/json accepts.
func (c *Correlator) Call(ctx context.Context, s Session, target, method string, data any, opts Options) (Call, error) {
	if err := validateTarget(target); err != nil {
		return Call{}, err
	}
	if method == "" {
		return Call{}, fmt.Errorf("%w: method is required", ErrInvalidCall)
	}
	if s.State() != bridge.StateConnected {
		return Call{}, bridge.ErrNotConnected
	}

	body, err := encodeData(data)
	if err != nil {
		return Call{}, err
	}

	now := c.now()
	env := Envelope{
		Tid:       NewID("tid", now),
		Bid:       NewID("bid", now),
		Timestamp: now.UnixMilli(),
		Method:    method,
		Data:      body,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return Call{}, fmt.Errorf("encoding envelope: %w", err)
	}

	call := Call{
		Tid:        env.Tid,
		Bid:        env.Bid,
		Method:     method,
		Topic:      c.topics.Services(target),
		ReplyTopic: c.topics.ServicesReply(target),
		Payload:    payload,
	}

	if !opts.SkipReplySubscribe {
		if err := s.Subscribe(ctx, call.ReplyTopic, opts.QoS); err != nil {
			c.logger.Warn("reply subscription failed, publishing anyway",
				"topic", call.ReplyTopic, "method", method, "error", err)
		}
	}

	if err := s.Publish(ctx, call.Topic, payload, opts.QoS, opts.Retain); err != nil {
		return Call{}, fmt.Errorf("publishing %s to %s: %w", method, call.Topic, err)
	}

	c.logger.Info("service call sent", "method", method, "topic", call.Topic, "tid", call.Tid, "bid", call.Bid)
	return call, nil
}

// Caller adapts c to bridge.Options.ServiceCall.
func (c *Correlator) Caller() bridge.ServiceCaller {
	return func(ctx context.Context, s *bridge.Session, cmd bridge.ServiceCallCommand) (bridge.ServiceCallResult, error) {
		call, err := c.Call(ctx, s, cmd.Target, cmd.Method, cmd.Data, Options{
			QoS:                cmd.QoS,
			Retain:             cmd.Retain,
			SkipReplySubscribe: !cmd.AutoSubscribe(),
		})
		if err != nil {
			return bridge.ServiceCallResult{}, err
		}
		return call.Result(), nil
	}
}

func validateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidCall)
	}
	if strings.ContainsAny(target, "/+#") {
		return fmt.Errorf("%w: target %q is not a single topic level", ErrInvalidCall, target)
	}
	return nil
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(strings.TrimSpace(string(v))) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: data is not valid JSON", ErrInvalidCall)
		}
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding data: %v", ErrInvalidCall, err)
		}
		return b, nil
	}
}
