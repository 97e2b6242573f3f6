package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/watchsync/go/internal/playback"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig holds configuration for the JetStream-backed bus.
type JetStreamConfig struct {
	URL             string        `yaml:"url"`
	StreamName      string        `yaml:"stream_name"`
	SubjectPrefix   string        `yaml:"subject_prefix"` // ops go to <prefix>.<session>.ops
	MaxReconnects   int           `yaml:"max_reconnects"`
	ReconnectWait   time.Duration `yaml:"reconnect_wait"`
	MaxAge          time.Duration `yaml:"max_age"` // how long session logs are kept
	Replicas        int           `yaml:"replicas"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
}

// DefaultJetStreamConfig returns default JetStream bus configuration.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "WATCH_SESSIONS",
		SubjectPrefix:   "watch.sessions",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// JetStreamBus sequences session ops through a single JetStream stream. The
// stream sequence is the total order and the server-side message timestamp is
// the logical clock every replica applies ops with.
type JetStreamBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	clock  clockwork.Clock
}

// NewJetStreamBus connects to NATS and makes sure the session stream exists.
func NewJetStreamBus(ctx context.Context, cfg JetStreamConfig, clock clockwork.Clock) (*JetStreamBus, error) {
	opts := []nats.Option{
		nats.Name("watchsync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &JetStreamBus{nc: nc, js: js, config: cfg, clock: clock}
	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return b, nil
}

func (b *JetStreamBus) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        b.config.StreamName,
		Description: "Ordered playback operations per watch session",
		Subjects:    []string{fmt.Sprintf("%s.>", b.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      b.config.MaxAge,
		MaxMsgs:     -1,
		Storage:     jetstream.FileStorage,
		Replicas:    b.config.Replicas,
		Duplicates:  b.config.DuplicateWindow,
	}
}

func (b *JetStreamBus) ensureStream(ctx context.Context) error {
	sc := b.streamConfig()

	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("get stream: %w", err)
		}
		if _, err = b.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = b.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// Subject returns the subject a session's ops are published on.
func (b *JetStreamBus) Subject(sessionID string) string {
	return fmt.Sprintf("%s.%s.ops", b.config.SubjectPrefix, sessionID)
}

// Publish appends op to the session log. The op ID doubles as the JetStream
// message ID, so retried publishes inside the duplicate window are dropped.
func (b *JetStreamBus) Publish(ctx context.Context, sessionID string, op playback.Op) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	data, err := encodeOp(sessionID, op, b.clock.Now())
	if err != nil {
		return err
	}

	subject := b.Subject(sessionID)
	ack, err := b.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Op-Kind":    []string{string(op.Kind)},
			"Session-ID": []string{sessionID},
			"Origin":     []string{op.Origin},
		},
	},
		jetstream.WithMsgID(op.ID),
		jetstream.WithExpectStream(b.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("op_id", op.ID).
		Str("op", string(op.Kind)).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published op")
	return nil
}

// Subscribe replays the session log through an ordered consumer and keeps
// following it. Ordered consumers redeliver from the last seen sequence after
// a gap, so the handler sees each entry once and in order.
func (b *JetStreamBus) Subscribe(ctx context.Context, sessionID string, handler Handler) (Subscription, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	consumer, err := b.js.OrderedConsumer(ctx, b.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{b.Subject(sessionID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ordered consumer: %w", err)
	}

	// per-session sequence; the stream sequence is shared by all sessions
	var seq uint64
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		env, err := envelopeFromMsg(msg)
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping undecodable op")
			return
		}
		seq++
		env.Seq = seq
		if err := handler(ctx, env); err != nil {
			log.Error().
				Err(err).
				Str("session_id", sessionID).
				Uint64("seq", env.Seq).
				Msg("failed to handle envelope")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	log.Info().
		Str("stream", b.config.StreamName).
		Str("session_id", sessionID).
		Msg("subscribed to session log")
	return consumeCtx, nil
}

// Len counts the messages stored on the session subject.
func (b *JetStreamBus) Len(ctx context.Context, sessionID string) (uint64, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return 0, err
	}
	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		return 0, fmt.Errorf("get stream: %w", err)
	}
	subject := b.Subject(sessionID)
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return 0, fmt.Errorf("get stream info: %w", err)
	}
	return info.State.Subjects[subject], nil
}

func envelopeFromMsg(msg jetstream.Msg) (Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return Envelope{}, fmt.Errorf("message metadata: %w", err)
	}
	sessionID, op, err := decodeOp(msg.Data())
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		SessionID: sessionID,
		At:        md.Timestamp,
		Pending:   md.NumPending,
		Op:        op,
	}, nil
}

// Ping checks the NATS connection and that the stream is reachable.
func (b *JetStreamBus) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("NATS %s", b.nc.Status())
	}
	if _, err := b.js.Stream(ctx, b.config.StreamName); err != nil {
		return fmt.Errorf("get stream: %w", err)
	}
	return nil
}

// Close closes the NATS connection, ending all subscriptions.
func (b *JetStreamBus) Close() error {
	if b.nc != nil {
		b.nc.Close()
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}
