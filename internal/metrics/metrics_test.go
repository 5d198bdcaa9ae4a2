package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/copykill/internal/domain"
)

type fixedHasher struct{ err error }

func (h fixedHasher) Sum(r *domain.FileRecord) (domain.Digest, error) {
	return domain.EmptyDigest, h.err
}

func TestInstrumentHasher_CountsByResult(t *testing.T) {
	okBefore := testutil.ToFloat64(FilesHashed.WithLabelValues("ok"))
	nfBefore := testutil.ToFloat64(FilesHashed.WithLabelValues("not_found"))
	staleBefore := testutil.ToFloat64(FilesHashed.WithLabelValues("stale"))
	bytesBefore := testutil.ToFloat64(BytesHashed)

	r := &domain.FileRecord{Size: 10}
	_, _ = InstrumentHasher(fixedHasher{}).Sum(r)
	_, _ = InstrumentHasher(fixedHasher{err: domain.ErrNotFound}).Sum(r)
	_, _ = InstrumentHasher(fixedHasher{err: domain.ErrChanged}).Sum(r)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(FilesHashed.WithLabelValues("ok")))
	assert.Equal(t, nfBefore+1, testutil.ToFloat64(FilesHashed.WithLabelValues("not_found")))
	assert.Equal(t, staleBefore+1, testutil.ToFloat64(FilesHashed.WithLabelValues("stale")))
	assert.Equal(t, bytesBefore+10, testutil.ToFloat64(BytesHashed))
}

func TestWriteTextfile(t *testing.T) {
	ObserveWarnings([]domain.Warning{{Code: domain.ErrCodeNotFound}})
	FilesScanned.Inc()

	path := filepath.Join(t.TempDir(), "copykill.prom")
	require.NoError(t, WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(b, []byte("copykill_files_scanned_total")))
	assert.True(t, bytes.Contains(b, []byte(`copykill_warnings_total{code="not_found"}`)))

	assert.Error(t, WriteTextfile(""))
}
