package reporting_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rivalcast/internal/artifacts"
	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/stages/reporting"
	"rivalcast/internal/testsupport"
)

type stubCompleter struct {
	content string
	prompt  string
}

func (s *stubCompleter) CompleteJSON(_ context.Context, _, userPrompt string) (string, error) {
	s.prompt = userPrompt
	return s.content, nil
}

type stubUploads struct {
	key  string
	path string
	err  error
}

func (s *stubUploads) Upload(_ context.Context, key, localPath string) (string, error) {
	s.key, s.path = key, localPath
	if s.err != nil {
		return "", s.err
	}
	return "s3://bucket/" + key, nil
}

func analyzeAll(t *testing.T, store *queue.Store, segments []*queue.Segment) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx *queue.Tx) error {
		for _, segment := range segments {
			if err := tx.SetSegmentAnalysis(context.Background(), segment.ID, `{"score":1}`); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReportWritesAndUploads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	order, files := testsupport.SeedOrder(t, store, 1)
	analyzeAll(t, store, testsupport.SeedSegments(t, store, files[0], 2))
	analyzeAll(t, store, testsupport.SeedSegments(t, store, files[1], 1))

	completer := &stubCompleter{content: `{"verdict":"self leads","notes":["pace <2 min & steady"]}`}
	uploads := &stubUploads{}
	handler := reporting.NewWithDependencies(cfg, store, logging.NewNop(), completer, uploads)
	task := &queue.Task{OrderID: order.ID, TargetID: order.ID, Type: queue.TaskReport}

	if err := handler.Prepare(context.Background(), task); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	result, err := handler.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ReportPath != filepath.Join(cfg.OrderWorkDir(order.ID), "report.json") {
		t.Fatalf("unexpected report path %s", result.ReportPath)
	}
	wantKey := artifacts.ReportKey(cfg.Artifacts.Prefix, order.ID, "report.json")
	if uploads.key != wantKey || uploads.path != result.ReportPath || result.ReportURI != "s3://bucket/"+wantKey {
		t.Fatalf("unexpected upload key=%s uri=%s", uploads.key, result.ReportURI)
	}

	data, err := os.ReadFile(result.ReportPath)
	if err != nil {
		t.Fatal(err)
	}
	var report reporting.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Segments != 3 || len(report.Participants) != 2 || report.Participants[0] != queue.RoleSelf {
		t.Fatalf("unexpected report %+v", report)
	}
	if string(report.Comparison) != `{"verdict":"self leads","notes":["pace <2 min & steady"]}` {
		t.Fatalf("unexpected comparison %s", report.Comparison)
	}

	var prompt struct {
		Participants []struct {
			Role     string            `json:"role"`
			Segments []json.RawMessage `json:"segments"`
		} `json:"participants"`
	}
	if err := json.Unmarshal([]byte(completer.prompt), &prompt); err != nil {
		t.Fatalf("prompt not JSON: %v", err)
	}
	if len(prompt.Participants) != 2 || len(prompt.Participants[0].Segments) != 2 || prompt.Participants[1].Role != "competitor#1" {
		t.Fatalf("unexpected grouping %+v", prompt)
	}
}

func TestReportPrepareRequiresAnalyzedSegments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	order, files := testsupport.SeedOrder(t, store, 0)
	testsupport.SeedSegments(t, store, files[0], 1)

	handler := reporting.NewWithDependencies(cfg, store, logging.NewNop(), &stubCompleter{}, nil)
	err := handler.Prepare(context.Background(), &queue.Task{OrderID: order.ID, TargetID: order.ID, Type: queue.TaskReport})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReportUploadFailureIsReturned(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	order, files := testsupport.SeedOrder(t, store, 0)
	analyzeAll(t, store, testsupport.SeedSegments(t, store, files[0], 1))

	uploads := &stubUploads{err: services.Wrap(services.ErrTransient, "artifacts", "upload", "", errors.New("503"))}
	handler := reporting.NewWithDependencies(cfg, store, logging.NewNop(), &stubCompleter{content: `{}`}, uploads)
	_, err := handler.Execute(context.Background(), &queue.Task{OrderID: order.ID, TargetID: order.ID, Type: queue.TaskReport})
	if services.Classify(err) != services.OutcomeTransient {
		t.Fatalf("expected transient outcome, got %v", err)
	}
}

func TestReportScoresTopicOverlap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	order, files := testsupport.SeedOrder(t, store, 1)
	selfSegments := testsupport.SeedSegments(t, store, files[0], 1)
	rivalSegments := testsupport.SeedSegments(t, store, files[1], 1)
	err := store.WithTx(context.Background(), func(tx *queue.Tx) error {
		if err := tx.SetSegmentTranscript(context.Background(), selfSegments[0].ID, "serum discount serum bundle shipping"); err != nil {
			return err
		}
		return tx.SetSegmentTranscript(context.Background(), rivalSegments[0].ID, "serum giveaway tripod tripod")
	})
	if err != nil {
		t.Fatal(err)
	}
	analyzeAll(t, store, append(selfSegments, rivalSegments...))

	handler := reporting.NewWithDependencies(cfg, store, logging.NewNop(), &stubCompleter{content: `{}`}, &stubUploads{})
	task := &queue.Task{OrderID: order.ID, TargetID: order.ID, Type: queue.TaskReport}
	result, err := handler.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, err := os.ReadFile(result.ReportPath)
	if err != nil {
		t.Fatal(err)
	}
	var report reporting.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if len(report.TopicOverlap) != 1 {
		t.Fatalf("expected one overlap entry, got %+v", report.TopicOverlap)
	}
	overlap := report.TopicOverlap[0]
	if overlap.Competitor != "competitor#1" || overlap.Similarity <= 0 || overlap.Similarity >= 1 {
		t.Fatalf("unexpected overlap %+v", overlap)
	}
	if len(overlap.SharedTopics) != 1 || overlap.SharedTopics[0] != "serum" {
		t.Fatalf("unexpected shared topics %v", overlap.SharedTopics)
	}
	if len(overlap.CompetitorOnly) == 0 || overlap.CompetitorOnly[0] != "tripod" {
		t.Fatalf("unexpected competitor-only topics %v", overlap.CompetitorOnly)
	}
}
