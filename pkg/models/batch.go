package models

import (
	"fmt"

	"github.com/ajitpratap0/memsink/pkg/errors"
)

// Batch is an ordered group of records from one topic partition, written as
// a single unit. It is immutable once constructed.
type Batch struct {
	topic       string
	partition   int32
	startOffset int64
	records     []*Record
}

// NewBatch validates that records is non-empty and that every record belongs
// to the same topic and partition as the first. The slice is copied.
func NewBatch(records []*Record) (*Batch, error) {
	if len(records) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "batch has no records")
	}

	first := records[0]
	if first == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "batch contains a nil record")
	}
	if first.Topic == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "record has no topic")
	}

	for i, r := range records {
		if r == nil {
			return nil, errors.New(errors.ErrorTypeValidation, "batch contains a nil record")
		}
		if r.Topic != first.Topic || r.Partition != first.Partition {
			return nil, errors.New(errors.ErrorTypeValidation,
				fmt.Sprintf("record %d belongs to %s-%d, batch is %s-%d",
					i, r.Topic, r.Partition, first.Topic, first.Partition))
		}
	}

	copied := make([]*Record, len(records))
	copy(copied, records)

	return &Batch{
		topic:       first.Topic,
		partition:   first.Partition,
		startOffset: first.Offset,
		records:     copied,
	}, nil
}

// Table is the target table name, which is the topic name.
func (b *Batch) Table() string { return b.topic }

// Partition is the partition every record was read from.
func (b *Batch) Partition() int32 { return b.partition }

// StartOffset is the offset of the first record.
func (b *Batch) StartOffset() int64 { return b.startOffset }

// Count is the number of records.
func (b *Batch) Count() int { return len(b.records) }

// Records returns the records in batch order. Callers must not modify them.
func (b *Batch) Records() []*Record { return b.records }

// First returns the first record, whose schema describes the batch.
func (b *Batch) First() *Record { return b.records[0] }

// Identity returns "<topic>-<partition>-<startOffset>". Redelivery of the same
// batch yields the same identity.
func (b *Batch) Identity() string {
	return fmt.Sprintf("%s-%d-%d", b.topic, b.partition, b.startOffset)
}
