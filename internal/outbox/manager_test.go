package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-worker/internal/domain"
	"github.com/tbourn/go-chat-worker/internal/provider"
	"github.com/tbourn/go-chat-worker/internal/repo"
)

func newOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.OutboundTask{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// scriptedSender returns its errs in order, then nil forever.
type scriptedSender struct {
	errs  []error
	calls int
	sent  []string
}

func (s *scriptedSender) Send(_ context.Context, _ int64, text, _ string) error {
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	s.sent = append(s.sent, text)
	return nil
}

// tightBackoff makes retried tasks due again immediately.
var tightBackoff = BackoffConfig{BaseDelay: time.Nanosecond, MaxDelay: time.Nanosecond}

func newTestManager(db *gorm.DB, sender provider.Sender, maxAttempts int) *Manager {
	return NewManager(db, sender, maxAttempts, tightBackoff, time.Minute, 10, time.Second, nil)
}

func TestManager_Sweep_SendsPendingTask(t *testing.T) {
	db := newOutboxDB(t)
	sender := &scriptedSender{}
	m := newTestManager(db, sender, 5)
	ctx := context.Background()

	id, err := m.Enqueue(ctx, 42, "hello", "", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sent, err := m.Sweep(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("sweep: (%d, %v)", sent, err)
	}

	task, _ := repo.GetOutboundTask(ctx, db, id)
	if task.Status != domain.TaskStatusSent || task.Attempts != 1 {
		t.Fatalf("task not sent: %+v", task)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "hello" {
		t.Fatalf("provider saw wrong sends: %v", sender.sent)
	}
}

func TestManager_TransientFailures_RetryThenSucceed(t *testing.T) {
	db := newOutboxDB(t)
	sender := &scriptedSender{errs: []error{errors.New("net hiccup")}}
	m := newTestManager(db, sender, 5)
	ctx := context.Background()

	id, _ := m.Enqueue(ctx, 42, "retry me", "", nil)

	if sent, err := m.Sweep(ctx); err != nil || sent != 0 {
		t.Fatalf("first sweep: (%d, %v)", sent, err)
	}
	task, _ := repo.GetOutboundTask(ctx, db, id)
	if task.Status != domain.TaskStatusPending || task.Attempts != 1 || task.LastError == "" {
		t.Fatalf("transient failure not recorded: %+v", task)
	}

	time.Sleep(5 * time.Millisecond) // let the nanosecond backoff elapse
	if sent, err := m.Sweep(ctx); err != nil || sent != 1 {
		t.Fatalf("second sweep: (%d, %v)", sent, err)
	}
	task, _ = repo.GetOutboundTask(ctx, db, id)
	if task.Status != domain.TaskStatusSent || task.Attempts != 2 {
		t.Fatalf("retry did not converge to sent: %+v", task)
	}
}

func TestManager_ExhaustedRetries_TerminalFailed(t *testing.T) {
	db := newOutboxDB(t)
	boom := errors.New("still down")
	sender := &scriptedSender{errs: []error{boom, boom, boom, boom, boom}}
	m := newTestManager(db, sender, 3)
	ctx := context.Background()

	id, _ := m.Enqueue(ctx, 42, "doomed", "", nil)

	for i := 0; i < 3; i++ {
		if _, err := m.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	task, _ := repo.GetOutboundTask(ctx, db, id)
	if task.Status != domain.TaskStatusFailed || task.Attempts != 3 {
		t.Fatalf("expected terminal failure after 3 attempts: %+v", task)
	}
	if sender.calls != 3 {
		t.Fatalf("expected exactly 3 provider calls, got %d", sender.calls)
	}

	// A failed task is never picked up again.
	if _, err := m.Sweep(ctx); err != nil {
		t.Fatalf("post-failure sweep: %v", err)
	}
	if sender.calls != 3 {
		t.Fatalf("failed task was retried: %d calls", sender.calls)
	}
}

func TestManager_PermanentFailure_FailsImmediately(t *testing.T) {
	db := newOutboxDB(t)
	sender := &scriptedSender{errs: []error{provider.Permanent("bot blocked by user")}}
	m := newTestManager(db, sender, 5)
	ctx := context.Background()

	id, _ := m.Enqueue(ctx, 42, "unwanted", "", nil)

	if _, err := m.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	task, _ := repo.GetOutboundTask(ctx, db, id)
	if task.Status != domain.TaskStatusFailed || task.Attempts != 1 {
		t.Fatalf("permanent rejection must fail on first attempt: %+v", task)
	}
}

func TestManager_PerChatOrdering_HeadBlocksTail(t *testing.T) {
	db := newOutboxDB(t)
	boom := errors.New("transient")
	sender := &scriptedSender{errs: []error{boom}}
	m := newTestManager(db, sender, 5)
	ctx := context.Background()
	now := time.Now().UTC()

	first, _ := m.Enqueue(ctx, 42, "first", "", nil)
	second, _ := m.Enqueue(ctx, 42, "second", "", nil)
	if err := db.Exec(`UPDATE outbound_tasks SET created_at = ? WHERE id = ?`, now.Add(-2*time.Minute), first).Error; err != nil {
		t.Fatalf("age first: %v", err)
	}
	if err := db.Exec(`UPDATE outbound_tasks SET created_at = ? WHERE id = ?`, now.Add(-time.Minute), second).Error; err != nil {
		t.Fatalf("age second: %v", err)
	}

	// Head fails transiently; the tail must not be attempted this sweep.
	if sent, err := m.Sweep(ctx); err != nil || sent != 0 {
		t.Fatalf("first sweep: (%d, %v)", sent, err)
	}
	if sender.calls != 1 {
		t.Fatalf("tail attempted while head pending: %d calls", sender.calls)
	}

	time.Sleep(5 * time.Millisecond)
	if sent, err := m.Sweep(ctx); err != nil || sent != 1 {
		t.Fatalf("second sweep: (%d, %v)", sent, err)
	}
	time.Sleep(5 * time.Millisecond)
	if sent, err := m.Sweep(ctx); err != nil || sent != 1 {
		t.Fatalf("third sweep: (%d, %v)", sent, err)
	}
	if len(sender.sent) != 2 || sender.sent[0] != "first" || sender.sent[1] != "second" {
		t.Fatalf("per-chat order violated: %v", sender.sent)
	}
}

func TestManager_Run_StopsOnCancel(t *testing.T) {
	db := newOutboxDB(t)
	m := newTestManager(db, &scriptedSender{}, 5)
	m.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}
