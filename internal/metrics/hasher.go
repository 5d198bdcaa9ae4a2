package metrics

import (
	"errors"

	"github.com/John-Robertt/copykill/internal/domain"
)

var _ domain.Hasher = instrumentedHasher{}

type instrumentedHasher struct {
	next domain.Hasher
}

// InstrumentHasher 给 Hasher 加上计数（并发安全：prometheus 指标本身是原子的）。
func InstrumentHasher(next domain.Hasher) domain.Hasher {
	return instrumentedHasher{next: next}
}

func (h instrumentedHasher) Sum(r *domain.FileRecord) (domain.Digest, error) {
	d, err := h.next.Sum(r)
	switch {
	case err == nil:
		FilesHashed.WithLabelValues("ok").Inc()
		BytesHashed.Add(float64(r.Size))
	case errors.Is(err, domain.ErrNotFound):
		FilesHashed.WithLabelValues("not_found").Inc()
	case errors.Is(err, domain.ErrChanged), errors.Is(err, domain.ErrNotRegular):
		FilesHashed.WithLabelValues("stale").Inc()
	default:
		FilesHashed.WithLabelValues("error").Inc()
	}
	return d, err
}
