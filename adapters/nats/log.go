package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rcknight/ESSnapshots/core/cache"
	"github.com/rcknight/ESSnapshots/core/es"
	"github.com/rcknight/ESSnapshots/core/sf"
	"github.com/rcknight/ESSnapshots/ports/kv"
)

const (
	hdrFirstVersion = "x-first-version"
	hdrLastVersion  = "x-last-version"
	hdrRecordCount  = "x-record-count"

	defaultStreamName    = "ES_EVENTS"
	defaultSubjectPrefix = "es"
	defaultMetaBucket    = "es_stream_meta"
	defaultMetaTTL       = 30 * time.Second
	setupTimeout         = 10 * time.Second
)

var validStreamName = regexp.MustCompile(`^[A-Za-z0-9_=-]+$`)

type EventLogConfig struct {
	Connect Connector
	Log     *slog.Logger
	// StreamName is the JetStream stream holding every event stream.
	StreamName string
	// SubjectPrefix is prepended to each event stream name to form its subject.
	SubjectPrefix string
	// MetaBucket is the KV bucket storing per-stream retention.
	MetaBucket string
	Storage    jetstream.StorageType
	// SeekCache remembers where in the JetStream stream a version starts.
	// Defaults to an LRU of 4096 entries.
	SeekCache cache.Cache
	// MetaTTL bounds how long retention settings are cached locally.
	MetaTTL time.Duration
}

// streamMeta is persisted per event stream in the meta bucket.
type streamMeta struct {
	MaxCount int `json:"max_count"`
}

// EventLog stores every event stream as one subject of a single JetStream
// stream. Each Append is published as one message carrying the whole batch, so
// appends are atomic. Optimistic concurrency relies on the expected last
// subject sequence header.
type EventLog struct {
	log     *slog.Logger
	prefix  string
	js      jetstream.JetStream
	stream  jetstream.Stream
	meta    *KvStore
	seeks   cache.TypedCache[uint64]
	seeking sf.Group[uint64]
	metas   cache.TypedCache[streamMeta]
	metaTTL time.Duration
	closeNc closeFunc
	closeC  func()
}

func NewEventLog(cfg EventLogConfig) (*EventLog, error) {
	if cfg.StreamName == "" {
		cfg.StreamName = defaultStreamName
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}
	if cfg.MetaBucket == "" {
		cfg.MetaBucket = defaultMetaBucket
	}
	if cfg.MetaTTL == 0 {
		cfg.MetaTTL = defaultMetaTTL
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	closeCache := func() {}
	if cfg.SeekCache == nil {
		lru := cache.NewLRU(cache.LRUOpts{Size: 4096})
		cfg.SeekCache, closeCache = lru, lru.Close
	}
	if cfg.Connect == nil {
		cfg.Connect = ConnectDefault()
	}

	connect := ReuseConnection(cfg.Connect)
	nc, closeNc, err := connect()
	if err != nil {
		closeCache()
		return nil, esUnavailable(err)
	}
	release := func() {
		closeNc()
		closeCache()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		release()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              cfg.StreamName,
		Subjects:          []string{cfg.SubjectPrefix + ".>"},
		Storage:           cfg.Storage,
		Retention:         jetstream.LimitsPolicy,
		MaxMsgsPerSubject: -1,
		Duplicates:        2 * time.Minute,
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, esUnavailable(err))
	}

	meta, err := NewKvStore(KvConfig{Connect: connect, Bucket: cfg.MetaBucket, Storage: cfg.Storage})
	if err != nil {
		release()
		return nil, err
	}

	return &EventLog{
		log: cfg.Log.With(
			slog.String("store", "nats_js"),
			slog.String("js_stream", cfg.StreamName),
		),
		prefix:  cfg.SubjectPrefix,
		js:      js,
		stream:  stream,
		meta:    meta,
		seeks:   cache.NewTyped[uint64](cfg.SeekCache),
		metas:   cache.NewTyped[streamMeta](cfg.SeekCache),
		metaTTL: cfg.MetaTTL,
		closeNc: closeNc,
		closeC:  closeCache,
	}, nil
}

func (l *EventLog) Close() {
	l.meta.Close()
	l.closeNc()
	l.closeC()
}

func (l *EventLog) subject(stream string) (string, error) {
	if !validStreamName.MatchString(stream) {
		return "", fmt.Errorf("invalid stream name %q", stream)
	}
	return l.prefix + "." + stream, nil
}

// === Append ===

func (l *EventLog) Append(
	ctx context.Context,
	stream string,
	expected es.ExpectedVersion,
	records []es.Record,
) (es.Version, error) {
	if len(records) == 0 {
		return es.NoVersion, es.ErrNoRecords
	}
	subj, err := l.subject(stream)
	if err != nil {
		return es.NoVersion, err
	}

	for {
		current, lastSeq, err := l.last(ctx, subj)
		if err != nil {
			return es.NoVersion, err
		}
		if err := expected.Check(stream, current); err != nil {
			return es.NoVersion, err
		}

		v, err := l.publish(ctx, subj, stream, current, lastSeq, records)
		if errors.Is(err, es.ErrConcurrencyConflict) && expected.IsAny() {
			l.log.Debug("append raced, retrying", slog.String("stream", stream))
			continue
		}
		if err != nil {
			return es.NoVersion, err
		}

		l.enforceRetention(ctx, stream, subj)
		return v, nil
	}
}

func (l *EventLog) publish(
	ctx context.Context,
	subj, stream string,
	current es.Version,
	lastSeq uint64,
	records []es.Record,
) (es.Version, error) {
	batch := make([]es.Record, len(records))
	v := current
	for i, r := range records {
		r.Stream = stream
		if err := r.Validate(); err != nil {
			return es.NoVersion, err
		}
		v++
		r.Version = v
		batch[i] = r
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return es.NoVersion, err
	}

	msg := natsgo.NewMsg(subj)
	msg.Data = data
	msg.Header.Set(hdrFirstVersion, strconv.FormatInt(batch[0].Version.Int64(), 10))
	msg.Header.Set(hdrLastVersion, strconv.FormatInt(v.Int64(), 10))
	msg.Header.Set(hdrRecordCount, strconv.Itoa(len(batch)))

	ack, err := l.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(batch[0].ID),
		jetstream.WithExpectLastSequencePerSubject(lastSeq),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return es.NoVersion, fmt.Errorf("%w: stream %s moved past version %d", es.ErrConcurrencyConflict, stream, current)
		}
		return es.NoVersion, fmt.Errorf("publish to %s: %w", subj, esUnavailable(err))
	}
	if ack.Duplicate {
		return es.NoVersion, fmt.Errorf("%w: record %s was already appended to %s", es.ErrConcurrencyConflict, batch[0].ID, stream)
	}

	l.log.Debug(
		"append",
		slog.String("stream", stream),
		v.SlogAttrWithKey("last_version"),
		slog.Int("num_records", len(batch)),
		slog.Uint64("seq", ack.Sequence),
	)
	return v, nil
}

// last returns the newest version on subj and the stream sequence holding
// it. A missing subject yields NoVersion and sequence 0.
func (l *EventLog) last(ctx context.Context, subj string) (es.Version, uint64, error) {
	msg, err := l.stream.GetLastMsgForSubject(ctx, subj)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return es.NoVersion, 0, nil
		}
		return es.NoVersion, 0, fmt.Errorf("read last of %s: %w", subj, esUnavailable(err))
	}
	v, err := headerVersion(msg.Header, hdrLastVersion)
	if err != nil {
		return es.NoVersion, 0, err
	}
	return v, msg.Sequence, nil
}

// === Read ===

func (l *EventLog) ReadForward(
	ctx context.Context,
	stream string,
	from es.Version,
	pageSize int,
) (*es.Page, error) {
	if pageSize <= 0 {
		pageSize = es.DefaultPageSize
	}
	if from < 0 {
		from = 0
	}
	subj, err := l.subject(stream)
	if err != nil {
		return nil, err
	}

	lastVersion, lastSeq, err := l.last(ctx, subj)
	if err != nil {
		return nil, err
	}
	if lastVersion.IsNone() || from > lastVersion {
		return &es.Page{NextVersion: from, IsEndOfStream: true}, nil
	}

	startSeq, err := l.seek(ctx, subj, from, lastSeq)
	if err != nil {
		return nil, err
	}

	cons, err := l.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects:    []string{subj},
		DeliverPolicy:     jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:       startSeq,
		InactiveThreshold: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer on %s: %w", subj, esUnavailable(err))
	}

	var (
		page    = &es.Page{NextVersion: from}
		seenSeq uint64
		nextSeq = startSeq
	)
	for len(page.Records) < pageSize && page.NextVersion <= lastVersion && seenSeq < lastSeq {
		batch, err := cons.FetchNoWait(pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", subj, esUnavailable(err))
		}

		fetched := 0
		for msg := range batch.Messages() {
			fetched++
			meta, err := msg.Metadata()
			if err != nil {
				return nil, err
			}
			seenSeq = meta.Sequence.Stream
			if len(page.Records) == pageSize {
				continue
			}

			var recs []es.Record
			if err := json.Unmarshal(msg.Data(), &recs); err != nil {
				return nil, fmt.Errorf("decode message %d of %s: %w", seenSeq, subj, err)
			}
			for _, r := range recs {
				if r.Version < page.NextVersion {
					continue
				}
				if len(page.Records) == pageSize {
					break
				}
				page.Records = append(page.Records, r)
				page.NextVersion = r.Version.Next()
				nextSeq = seenSeq
			}
		}
		if err := batch.Error(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", subj, esUnavailable(err))
		}
		if fetched == 0 {
			return nil, es.Unavailable(fmt.Errorf("fetch %s: no messages delivered from seq %d", subj, startSeq))
		}
	}

	page.IsEndOfStream = page.NextVersion > lastVersion
	if !page.IsEndOfStream {
		l.seeks.Put(seekKey(subj, page.NextVersion), nextSeq)
	}
	return page, nil
}

// seek finds the first stream sequence from which reading subj yields version
// from. lastSeq must hold a message whose last version is at least from.
func (l *EventLog) seek(ctx context.Context, subj string, from es.Version, lastSeq uint64) (uint64, error) {
	if from <= 0 {
		return 1, nil
	}
	key := seekKey(subj, from)
	if seq, ok := l.seeks.Get(key); ok {
		return seq, nil
	}

	// concurrent hydrations of one aggregate share a single search
	seq, _, err := l.seeking.Do(key, func() (uint64, error) {
		lo, hi := uint64(1), lastSeq
		for lo < hi {
			mid := lo + (hi-lo)/2
			msg, err := l.stream.GetMsg(ctx, mid, jetstream.WithGetMsgSubject(subj))
			if err != nil {
				return 0, fmt.Errorf("seek %s: %w", subj, esUnavailable(err))
			}
			v, err := headerVersion(msg.Header, hdrLastVersion)
			if err != nil {
				return 0, err
			}
			if v >= from {
				hi = mid
			} else {
				lo = msg.Sequence + 1
			}
		}
		l.seeks.Put(key, lo)
		return lo, nil
	})
	return seq, err
}

func (l *EventLog) ReadLastBackward(ctx context.Context, stream string) (*es.Record, error) {
	subj, err := l.subject(stream)
	if err != nil {
		return nil, err
	}
	msg, err := l.stream.GetLastMsgForSubject(ctx, subj)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, es.ErrStreamNotFound
		}
		return nil, fmt.Errorf("read last of %s: %w", subj, esUnavailable(err))
	}
	var recs []es.Record
	if err := json.Unmarshal(msg.Data, &recs); err != nil {
		return nil, fmt.Errorf("decode message %d of %s: %w", msg.Sequence, subj, err)
	}
	if len(recs) == 0 {
		return nil, es.ErrStreamNotFound
	}
	r := recs[len(recs)-1]
	return &r, nil
}

// === Retention ===

// SetRetention persists maxCount for stream and purges right away. JetStream
// purges whole messages, so a stream may keep a few more records than
// maxCount when the newest appends were batches.
func (l *EventLog) SetRetention(ctx context.Context, stream string, maxCount int) error {
	subj, err := l.subject(stream)
	if err != nil {
		return err
	}
	m := streamMeta{MaxCount: maxCount}
	if err := kv.Put(ctx, l.meta, metaKey(stream), m, kv.PutOptions{}); err != nil {
		return err
	}
	l.metas.Put(metaKey(stream), m, cache.WithTTL(l.metaTTL))
	return l.purge(ctx, subj, maxCount)
}

// enforceRetention trims subj after an append. Failures are logged only; the
// next append tries again.
func (l *EventLog) enforceRetention(ctx context.Context, stream, subj string) {
	m, err := l.retention(ctx, stream)
	if err != nil {
		l.log.Warn("failed to load retention", slog.String("stream", stream), slog.Any("error", err))
		return
	}
	if m.MaxCount <= 0 {
		return
	}
	if err := l.purge(ctx, subj, m.MaxCount); err != nil {
		l.log.Warn("failed to purge", slog.String("stream", stream), slog.Any("error", err))
	}
}

func (l *EventLog) retention(ctx context.Context, stream string) (streamMeta, error) {
	key := metaKey(stream)
	if m, ok := l.metas.Get(key); ok {
		return m, nil
	}
	m, err := kv.Get[streamMeta](ctx, l.meta, key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return m, err
	}
	l.metas.Put(key, m, cache.WithTTL(l.metaTTL))
	return m, nil
}

func (l *EventLog) purge(ctx context.Context, subj string, keep int) error {
	if keep <= 0 {
		return nil
	}
	err := l.stream.Purge(ctx, jetstream.WithPurgeSubject(subj), jetstream.WithPurgeKeep(uint64(keep)))
	if err != nil {
		return fmt.Errorf("purge %s: %w", subj, esUnavailable(err))
	}
	return nil
}

// === helpers ===

func seekKey(subj string, v es.Version) string {
	return "seek:" + subj + "@" + strconv.FormatInt(v.Int64(), 10)
}

func metaKey(stream string) string { return "meta." + stream }

func headerVersion(h natsgo.Header, key string) (es.Version, error) {
	raw := h.Get(key)
	if raw == "" {
		return es.NoVersion, fmt.Errorf("message is missing header %s", key)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return es.NoVersion, fmt.Errorf("bad header %s=%q: %w", key, raw, err)
	}
	return es.Version(n), nil
}

// esUnavailable marks transport failures so callers can tell them apart from
// domain and concurrency errors.
func esUnavailable(err error) error {
	switch {
	case errors.Is(err, natsgo.ErrNoServers),
		errors.Is(err, natsgo.ErrConnectionClosed),
		errors.Is(err, natsgo.ErrConnectionDraining),
		errors.Is(err, natsgo.ErrTimeout),
		errors.Is(err, natsgo.ErrNoResponders),
		errors.Is(err, context.DeadlineExceeded):
		return es.Unavailable(err)
	}
	return err
}

var _ es.EventLog = (*EventLog)(nil)
