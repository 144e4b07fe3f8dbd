package archival

import (
	"context"
	"errors"
	"testing"
)

type scriptedPipeline struct {
	records    []interface{}
	loadErr    error
	cleanedUp  bool
	loadCalled bool
}

func (s *scriptedPipeline) Name() string { return "scripted" }

func (s *scriptedPipeline) Extract(context.Context) ([]interface{}, error) {
	return s.records, nil
}

func (s *scriptedPipeline) Transform(_ context.Context, records []interface{}) ([]Row, error) {
	rows := make([]Row, len(records))
	for i := range records {
		rows[i] = Row{"id": i}
	}
	return rows, nil
}

func (s *scriptedPipeline) Load(context.Context, []Row) error {
	s.loadCalled = true
	return s.loadErr
}

func (s *scriptedPipeline) Cleanup(context.Context, []interface{}) error {
	s.cleanedUp = true
	return nil
}

func TestRunnerCleansUpOnlyAfterSuccessfulLoad(t *testing.T) {
	r := NewRunner(nil, nil)

	p := &scriptedPipeline{records: []interface{}{1, 2}}
	count, err := r.Run(context.Background(), p)
	if err != nil || count != 2 {
		t.Fatalf("Run should archive 2 rows, got %d err=%v", count, err)
	}
	if !p.cleanedUp {
		t.Error("Cleanup should follow a successful load")
	}
}

func TestRunnerShortCircuitsBeforeCleanupOnLoadFailure(t *testing.T) {
	r := NewRunner(nil, nil)

	p := &scriptedPipeline{records: []interface{}{1}, loadErr: errors.New("warehouse down")}
	if _, err := r.Run(context.Background(), p); err == nil {
		t.Fatal("Load failure must propagate so the job is reported failed")
	}
	if p.cleanedUp {
		t.Error("Source rows must survive a failed load")
	}
}

func TestRunnerSkipsEmptyExtract(t *testing.T) {
	r := NewRunner(nil, nil)

	p := &scriptedPipeline{}
	count, err := r.Run(context.Background(), p)
	if err != nil || count != 0 {
		t.Fatalf("Empty extract should be a clean no-op, got %d err=%v", count, err)
	}
	if p.loadCalled || p.cleanedUp {
		t.Error("No stages should run past an empty extract")
	}
}
