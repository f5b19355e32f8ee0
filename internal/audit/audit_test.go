package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ftl2/internal/domain"
)

func TestAppend_AddsRecordsInOrder(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "audit.jsonl"))
	l.Append(domain.ExecutionRecord{Host: "web1", Module: "pkg.install"})
	l.Append(domain.ExecutionRecord{Host: "web2", Module: "pkg.install"})

	records := l.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "web1", records[0].Host)
	assert.Equal(t, "web2", records[1].Host)
}

func TestReserveFill_PreservesCallStartOrderRegardlessOfCompletionOrder(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "audit.jsonl"))

	idxA := l.Reserve()
	idxB := l.Reserve()

	// B completes before A, but A started first.
	l.Fill(idxB, domain.ExecutionRecord{Host: "web2"})
	l.Fill(idxA, domain.ExecutionRecord{Host: "web1"})

	records := l.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "web1", records[0].Host)
	assert.Equal(t, "web2", records[1].Host)
}

func TestReserve_UnfilledSlotOmittedFromRecords(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "audit.jsonl"))

	l.Append(domain.ExecutionRecord{Host: "web1"})
	l.Reserve() // policy-denied call: never filled
	l.Append(domain.ExecutionRecord{Host: "web2"})

	records := l.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "web1", records[0].Host)
	assert.Equal(t, "web2", records[1].Host)
}

func TestFlush_WritesJSONArrayAndSkipsUnfilledSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l := Open(path)

	l.Append(domain.ExecutionRecord{Host: "web1", Module: "pkg.install", Success: true})
	l.Reserve()
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []domain.ExecutionRecord
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "web1", records[0].Host)
}

func TestFlush_NoopWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l := Open(path)
	require.NoError(t, l.Flush())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
