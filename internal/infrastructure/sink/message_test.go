package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka_WritesOneMessagePerRecord(t *testing.T) {
	w := &fakeKafkaWriter{}
	s := NewKafkaWith(w)

	require.NoError(t, s.Write(context.Background(), testResult()))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "de:0b9c1f5e", string(w.msgs[0].Key))
	assert.Equal(t, scrapedAt, w.msgs[0].Time)

	var msg struct {
		Partition string         `json:"partition"`
		Record    *domain.Record `json:"record"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &msg))
	assert.Equal(t, "de", msg.Partition)
	assert.Equal(t, "Golf", msg.Record.Attrs.Text(domain.FieldModel))

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafka_EmptyResultSendsNothing(t *testing.T) {
	w := &fakeKafkaWriter{err: errors.New("must not be called")}
	s := NewKafkaWith(w)

	assert.NoError(t, s.Write(context.Background(), domain.PartitionResult{Partition: "de"}))
}

func TestKafka_WriteError(t *testing.T) {
	s := NewKafkaWith(&fakeKafkaWriter{err: errors.New("leader not available")})

	err := s.Write(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestNewKafka_SplitsBrokerList(t *testing.T) {
	s, err := NewKafka([]string{"k1:9092, k2:9092", " "}, "listings")
	require.NoError(t, err)

	w, ok := s.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "listings", w.Topic)
	assert.Contains(t, w.Addr.String(), "k1:9092")
	assert.Contains(t, w.Addr.String(), "k2:9092")
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQ_PublishesPersistentMessages(t *testing.T) {
	ch := &fakeChannel{}
	s := NewRabbitMQWith(RabbitMQConfig{Exchange: "listings", RoutingKey: "car"}, ch)

	require.NoError(t, s.Write(context.Background(), testResult()))

	require.Len(t, ch.published, 2)
	p := ch.published[0]
	assert.Equal(t, "listings", p.exchange)
	assert.Equal(t, "car.de", p.key)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, "de:0b9c1f5e", p.msg.MessageId)

	require.NoError(t, s.Close())
	assert.True(t, ch.closed)
}

func TestRabbitMQ_DefaultRoutingKeyIsPartition(t *testing.T) {
	ch := &fakeChannel{}
	s := NewRabbitMQWith(RabbitMQConfig{}, ch)

	require.NoError(t, s.Write(context.Background(), testResult()))
	assert.Equal(t, "de", ch.published[0].key)
}

func TestRabbitMQ_PublishError(t *testing.T) {
	s := NewRabbitMQWith(RabbitMQConfig{}, &fakeChannel{err: amqp.ErrClosed})

	err := s.Write(context.Background(), testResult())
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

type fakeBatchResults struct {
	failAt int
	execs  int
	closed bool
}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	f.execs++
	if f.failAt > 0 && f.execs == f.failAt {
		return pgconn.CommandTag{}, errors.New("duplicate key")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (f *fakeBatchResults) QueryRow() pgx.Row        { return nil }
func (f *fakeBatchResults) Close() error {
	f.closed = true
	return nil
}

type fakePool struct {
	execs   []string
	batches []*pgx.Batch
	results *fakeBatchResults
	closed  bool
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakePool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batches = append(f.batches, b)
	if f.results == nil {
		f.results = &fakeBatchResults{}
	}
	return f.results
}

func (f *fakePool) Close() { f.closed = true }

func TestPostgres_WriteQueuesUpsertsAndRun(t *testing.T) {
	pool := &fakePool{}
	s := NewPostgres(pool)

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, pool.execs, 1)
	assert.Contains(t, pool.execs[0], "CREATE TABLE IF NOT EXISTS listings")

	require.NoError(t, s.Write(context.Background(), testResult()))

	require.Len(t, pool.batches, 1)
	batch := pool.batches[0]
	require.Equal(t, 3, batch.Len())
	assert.Contains(t, batch.QueuedQueries[0].SQL, "ON CONFLICT (partition, key)")
	assert.Equal(t, "0b9c1f5e", batch.QueuedQueries[0].Arguments[1])
	assert.Contains(t, batch.QueuedQueries[2].SQL, "INSERT INTO partition_runs")
	assert.Equal(t, 3, pool.results.execs)
	assert.True(t, pool.results.closed)

	require.NoError(t, s.Close())
	assert.True(t, pool.closed)
}

func TestPostgres_WriteStopsOnFailedStatement(t *testing.T) {
	pool := &fakePool{results: &fakeBatchResults{failAt: 2}}
	s := NewPostgres(pool)

	err := s.Write(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 1")
	assert.True(t, pool.results.closed)
}
