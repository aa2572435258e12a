package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// Multi fans a partition result out to several sinks. A failing sink never
// keeps the others from receiving the result.
type Multi struct {
	sinks []domain.RecordSink
	log   logrus.FieldLogger
}

// NewMulti creates a fan-out sink
func NewMulti(log logrus.FieldLogger, sinks ...domain.RecordSink) *Multi {
	return &Multi{sinks: sinks, log: log}
}

// Name returns "multi"
func (m *Multi) Name() string { return "multi" }

// Sinks returns the wrapped sinks
func (m *Multi) Sinks() []domain.RecordSink { return m.sinks }

// Write hands result to every sink and joins their errors
func (m *Multi) Write(ctx context.Context, result domain.PartitionResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, result); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", domain.ErrSinkFailure, s.Name(), err))
			continue
		}
		m.log.WithFields(logrus.Fields{
			"partition": result.Partition,
			"sink":      s.Name(),
			"records":   len(result.Records),
		}).Debug("[SINK] written")
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// message is the wire form of one record on the message sinks
type message struct {
	Partition string         `json:"partition"`
	ScrapedAt time.Time      `json:"scrapedAt"`
	Record    *domain.Record `json:"record"`
}

func encodeRecord(partition string, r *domain.Record) ([]byte, error) {
	return json.Marshal(message{Partition: partition, ScrapedAt: r.ScrapedAt, Record: r})
}

// writeFileAtomic writes data next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
