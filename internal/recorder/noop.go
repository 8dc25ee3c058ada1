package recorder

import "chitfund/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordEvent(_ *model.Event) error { return nil }
func (n *NoopRecorder) Events(_ string) ([]model.Event, error) { return nil, nil }
func (n *NoopRecorder) Totals(_ string) (Totals, error) { return Totals{}, nil }
func (n *NoopRecorder) Close() error { return nil }
