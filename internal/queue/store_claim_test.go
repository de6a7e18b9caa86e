package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"rivalcast/internal/queue"
	"rivalcast/internal/testsupport"
)

func TestStaleClaimCannotSettleReclaimedTask(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	order, files := testsupport.SeedOrder(t, store, 0)
	id := testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})
	first, err := store.ClaimNext(ctx, 1)
	if err != nil || first == nil || first.ClaimID == "" {
		t.Fatalf("first claim: %+v (%v)", first, err)
	}

	if _, err := store.CancelOrder(ctx, order.ID, "operator stop"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if _, err := store.RequeueOrder(ctx, order.ID); err != nil {
		t.Fatalf("RequeueOrder: %v", err)
	}
	second, err := store.ClaimNext(ctx, 1)
	if err != nil || second == nil || second.ID != id {
		t.Fatalf("second claim: %+v (%v)", second, err)
	}
	if second.ClaimID == first.ClaimID {
		t.Fatalf("claim id reused across claims: %q", second.ClaimID)
	}

	err = store.WithTx(ctx, func(tx *queue.Tx) error { return tx.CompleteTask(ctx, first) })
	if !errors.Is(err, queue.ErrNotProcessing) {
		t.Fatalf("stale completion should be rejected, got %v", err)
	}
	if _, err := store.FailTask(ctx, first, "late failure", false); !errors.Is(err, queue.ErrNotProcessing) {
		t.Fatalf("stale failure should be rejected, got %v", err)
	}
	if err := store.TouchHeartbeat(ctx, first.ClaimID); err != nil {
		t.Fatalf("TouchHeartbeat: %v", err)
	}
	task, _ := store.GetTask(ctx, id)
	if task.Status != queue.StatusProcessing || task.ClaimID != second.ClaimID {
		t.Fatalf("re-claimed task disturbed by stale claim: %+v", task)
	}

	if err := store.WithTx(ctx, func(tx *queue.Tx) error { return tx.CompleteTask(ctx, second) }); err != nil {
		t.Fatalf("CompleteTask with current claim: %v", err)
	}
}

func TestClaimRollsBackWhenOrderCannotBeMarked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	order, files := testsupport.SeedOrder(t, store, 0)
	id := testsupport.MustEnqueue(t, store, queue.NewTask{OrderID: order.ID, TargetID: files[0].ID, Type: queue.TaskDownload})

	db, err := sql.Open("sqlite", "file:"+cfg.DatabasePath()+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open side connection: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx,
		`CREATE TRIGGER block_order_updates BEFORE UPDATE ON orders
		 BEGIN SELECT RAISE(ABORT, 'orders are read-only'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	task, err := store.ClaimNext(ctx, 1)
	if err == nil || task != nil {
		t.Fatalf("expected claim to fail, got %+v (%v)", task, err)
	}
	stored, _ := store.GetTask(ctx, id)
	if stored.Status != queue.StatusPending || stored.ClaimID != "" {
		t.Fatalf("failed claim left task %+v", stored)
	}

	if _, err := db.ExecContext(ctx, `DROP TRIGGER block_order_updates`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	task, err = store.ClaimNext(ctx, 1)
	if err != nil || task == nil || task.ID != id {
		t.Fatalf("claim after recovery: %+v (%v)", task, err)
	}
	updated, _ := store.GetOrder(ctx, order.ID)
	if updated.Status != queue.OrderProcessing {
		t.Fatalf("order status = %s, want processing", updated.Status)
	}
}
