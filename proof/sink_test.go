// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proof

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/governance/shared/logger"
)

func testRecord(t *testing.T) Record {
	t.Helper()
	s := newTestSealer(t)
	bundle, err := s.Seal(testRequest(), testVerdict(), nil)
	require.NoError(t, err)

	return Record{
		ID:           "rec-1",
		EventType:    EventAccessGranted,
		PartnerID:    "partner-1",
		EnterpriseID: "ent-1",
		RequestData:  json.RawMessage(`{"model":"gpt-4o"}`),
		PolicyResult: json.RawMessage(`{"decision":"allow"}`),
		Bundle:       bundle,
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostgresSinkAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO audit_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sink := NewPostgresSink(db)
	require.NoError(t, sink.Append(context.Background(), testRecord(t)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkAppendFailsClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO audit_records`).
		WillReturnError(errors.New("disk full"))

	sink := NewPostgresSink(db)
	err = sink.Append(context.Background(), testRecord(t))
	require.Error(t, err, "an unsealable decision must not look governed")
	assert.Contains(t, err.Error(), "store audit record")
}

type fakeS3 struct {
	puts []s3.PutObjectInput
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, *in)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

type memorySink struct {
	records []Record
	err     error
}

func (m *memorySink) Append(ctx context.Context, rec Record) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func TestArchivingSinkMirrorsRecords(t *testing.T) {
	client := &fakeS3{}
	inner := &memorySink{}
	sink := NewArchivingSink(inner, NewS3ArchiverWithClient(client, "audit-archive", logger.New("proof-test")))

	rec := testRecord(t)
	require.NoError(t, sink.Append(context.Background(), rec))

	require.Len(t, inner.records, 1)
	require.Len(t, client.puts, 1)
	assert.Equal(t, "audit-archive", *client.puts[0].Bucket)
	assert.Equal(t, "ent-1/2025-06-01/"+rec.Bundle.BundleID+".json", *client.puts[0].Key)
}

func TestArchivingSinkArchiveFailureIsNonFatal(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	inner := &memorySink{}
	sink := NewArchivingSink(inner, NewS3ArchiverWithClient(client, "audit-archive", logger.New("proof-test")))

	assert.NoError(t, sink.Append(context.Background(), testRecord(t)))
	assert.Len(t, inner.records, 1)
}

func TestArchivingSinkInnerFailurePropagates(t *testing.T) {
	client := &fakeS3{}
	inner := &memorySink{err: errors.New("db down")}
	sink := NewArchivingSink(inner, NewS3ArchiverWithClient(client, "audit-archive", logger.New("proof-test")))

	assert.Error(t, sink.Append(context.Background(), testRecord(t)))
	assert.Empty(t, client.puts, "nothing archived when the sink rejects the record")
}
