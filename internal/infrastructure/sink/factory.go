package sink

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// Sink names accepted by New
const (
	KindJSON     = "json"
	KindCSV      = "csv"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRabbitMQ = "rabbitmq"
	KindKafka    = "kafka"
)

// Kinds lists every sink name New understands
var Kinds = []string{KindJSON, KindCSV, KindSQLite, KindPostgres, KindRabbitMQ, KindKafka}

// Config selects and configures the output sinks
type Config struct {
	Sinks        []string
	Dir          string
	SQLitePath   string
	PostgresDSN  string
	RabbitMQ     RabbitMQConfig
	KafkaBrokers []string
	KafkaTopic   string
}

// New opens every configured sink behind one Multi. On failure the sinks
// opened so far are closed.
func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (*Multi, error) {
	var sinks []domain.RecordSink
	fail := func(err error) (*Multi, error) {
		NewMulti(log, sinks...).Close()
		return nil, err
	}

	for _, kind := range cfg.Sinks {
		var (
			s   domain.RecordSink
			err error
		)
		switch kind {
		case KindJSON:
			s = NewJSONFile(cfg.Dir)
		case KindCSV:
			s = NewCSVFile(cfg.Dir)
		case KindSQLite:
			path := cfg.SQLitePath
			if path == "" {
				path = filepath.Join(cfg.Dir, "listings.db")
			}
			s, err = OpenSQLite(path)
		case KindPostgres:
			s, err = ConnectPostgres(ctx, cfg.PostgresDSN)
		case KindRabbitMQ:
			s, err = DialRabbitMQ(cfg.RabbitMQ)
		case KindKafka:
			s, err = NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		default:
			err = fmt.Errorf("%w: unknown sink %q", domain.ErrInvalidRequest, kind)
		}
		if err != nil {
			return fail(fmt.Errorf("open %s sink: %w", kind, err))
		}
		log.WithField("sink", kind).Info("[SINK] opened")
		sinks = append(sinks, s)
	}
	return NewMulti(log, sinks...), nil
}
