// Package nats stores event streams in a NATS JetStream stream.
//
// Every stream identity maps to its own subject
// <prefix>.<stream name>.<stream id>, so JetStream orders its records and
// the per-subject last sequence check rejects a second writer for the same
// revision. Metadata travels in message headers and the payload is the raw
// event data.
//
// JetStream cannot publish to several subjects atomically, so the persistor
// does not implement eventpulse.Transactor and sessions flush record by
// record.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/terraskye/eventpulse"
)

const (
	DefaultStreamName    = "EVENTPULSE"
	DefaultSubjectPrefix = "eventpulse"

	headerStreamName = "Eventpulse-Stream-Name"
	headerStreamID   = "Eventpulse-Stream-Id"
	headerRevision   = "Eventpulse-Revision"
	headerEventType  = "Eventpulse-Event-Type"
	headerTimestamp  = "Eventpulse-Timestamp"

	fetchBatch = 100
)

// ErrInvalidSubject is returned for stream names or ids that cannot be used
// as a subject token.
var ErrInvalidSubject = errors.New("invalid subject token")

var _ eventpulse.StreamPersistor = (*Persistor)(nil)

type Persistor struct {
	js            jetstream.JetStream
	stream        jetstream.Stream
	nc            *natsgo.Conn
	streamName    string
	subjectPrefix string
}

type Option func(p *Persistor)

// WithStreamName sets the JetStream stream records are kept in.
func WithStreamName(name string) Option {
	return func(p *Persistor) { p.streamName = strings.ToUpper(name) }
}

// WithSubjectPrefix sets the first subject token of every record.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Persistor) { p.subjectPrefix = prefix }
}

// New ensures the JetStream stream exists and returns a persistor on it.
func New(ctx context.Context, js jetstream.JetStream, opts ...Option) (*Persistor, error) {
	p := &Persistor{
		js:            js,
		streamName:    DefaultStreamName,
		subjectPrefix: DefaultSubjectPrefix,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.streamName == "" || p.subjectPrefix == "" {
		return nil, errors.New("nats: stream name and subject prefix are required")
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     p.streamName,
		Subjects: []string{p.subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
		FirstSeq: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", p.streamName, err)
	}
	p.stream = stream
	return p, nil
}

// Connect dials the NATS server at url and returns a persistor owning the
// connection.
func Connect(ctx context.Context, url string, opts ...Option) (*Persistor, error) {
	nc, err := natsgo.Connect(url, natsgo.MaxReconnects(3))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	p, err := New(ctx, js, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.nc = nc
	return p, nil
}

// Close closes the connection if the persistor opened it.
func (p *Persistor) Close() error {
	p.js.CleanupPublisher()
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// Subject returns the subject records of (streamName, streamID) are published on.
func (p *Persistor) Subject(streamName, streamID string) (string, error) {
	for _, token := range []string{streamName, streamID} {
		if token == "" || strings.ContainsAny(token, ".*> \t\r\n") {
			return "", fmt.Errorf("%w: %q", ErrInvalidSubject, token)
		}
	}
	return p.subjectPrefix + "." + streamName + "." + streamID, nil
}

// Persist publishes record, expecting the subject to end at the previous
// revision.
func (p *Persistor) Persist(ctx context.Context, record eventpulse.EventRecord) error {
	subject, err := p.Subject(record.StreamName, record.StreamID)
	if err != nil {
		return err
	}
	if record.Revision == 0 {
		return fmt.Errorf("persist %s: revisions start at 1: %w", subject, eventpulse.ErrRevisionSequence)
	}

	conflict := func(cause error) error {
		return &eventpulse.ConcurrencyConflictError{
			StreamName: record.StreamName,
			StreamID:   record.StreamID,
			Revision:   record.Revision,
			Err:        cause,
		}
	}

	// Revision 1 expects an empty subject.
	var expected uint64
	if record.Revision > 1 {
		last, err := p.lastMessage(ctx, subject)
		if err != nil {
			return err
		}
		if last == nil {
			return fmt.Errorf("persist %s revision %d: subject is empty: %w", subject, record.Revision, eventpulse.ErrRevisionSequence)
		}

		lastRevision, err := parseRevision(last.Header)
		if err != nil {
			return fmt.Errorf("persist %s: sequence %d: %w", subject, last.Sequence, err)
		}
		switch {
		case lastRevision >= record.Revision:
			return conflict(nil)
		case lastRevision != record.Revision-1:
			return fmt.Errorf("persist %s revision %d after %d: %w", subject, record.Revision, lastRevision, eventpulse.ErrRevisionSequence)
		}
		expected = last.Sequence
	}

	msg := natsgo.NewMsg(subject)
	msg.Header.Set(headerStreamName, record.StreamName)
	msg.Header.Set(headerStreamID, record.StreamID)
	msg.Header.Set(headerRevision, strconv.FormatUint(record.Revision, 10))
	msg.Header.Set(headerEventType, record.EventType)
	msg.Header.Set(headerTimestamp, record.Timestamp.UTC().Format(time.RFC3339Nano))
	msg.Data = record.EventData

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithExpectLastSequencePerSubject(expected),
		jetstream.WithMsgID(subject+"."+strconv.FormatUint(record.Revision, 10)),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return conflict(err)
		}
		return fmt.Errorf("publish %s revision %d: %w", subject, record.Revision, err)
	}
	if ack.Duplicate {
		return conflict(nil)
	}
	return nil
}

// GetEvents reads the subject of the stream from its first message up to the
// last one present when the read started.
func (p *Persistor) GetEvents(ctx context.Context, streamName, streamID string) ([]eventpulse.EventRecord, error) {
	subject, err := p.Subject(streamName, streamID)
	if err != nil {
		return nil, err
	}

	last, err := p.lastMessage(ctx, subject)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return []eventpulse.EventRecord{}, nil
	}

	cc, err := p.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subject},
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", subject, err)
	}

	var records []eventpulse.EventRecord
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		mb, err := cc.FetchNoWait(fetchBatch)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", subject, err)
		}

		for msg := range mb.Messages() {
			md, err := msg.Metadata()
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", subject, err)
			}

			record, err := decode(msg.Headers(), msg.Data())
			if err != nil {
				return nil, fmt.Errorf("read %s: sequence %d: %w", subject, md.Sequence.Stream, err)
			}
			records = append(records, record)

			if md.Sequence.Stream >= last.Sequence {
				return records, nil
			}
		}
		if err := mb.Error(); err != nil {
			return nil, fmt.Errorf("read %s: %w", subject, err)
		}
	}
}

func (p *Persistor) lastMessage(ctx context.Context, subject string) (*jetstream.RawStreamMsg, error) {
	msg, err := p.stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message of %s: %w", subject, err)
	}
	return msg, nil
}

func parseRevision(h natsgo.Header) (uint64, error) {
	revision, err := strconv.ParseUint(h.Get(headerRevision), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("header %s: %w", headerRevision, err)
	}
	return revision, nil
}

func decode(h natsgo.Header, data []byte) (eventpulse.EventRecord, error) {
	revision, err := parseRevision(h)
	if err != nil {
		return eventpulse.EventRecord{}, err
	}
	timestamp, err := time.Parse(time.RFC3339Nano, h.Get(headerTimestamp))
	if err != nil {
		return eventpulse.EventRecord{}, fmt.Errorf("header %s: %w", headerTimestamp, err)
	}

	return eventpulse.EventRecord{
		StreamName: h.Get(headerStreamName),
		StreamID:   h.Get(headerStreamID),
		Revision:   revision,
		EventType:  h.Get(headerEventType),
		EventData:  append([]byte(nil), data...),
		Timestamp:  timestamp,
	}, nil
}
