package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/mail"
)

// BalanceReconciler recomputes cached balances from the ledger.
type BalanceReconciler interface {
	Reconcile(ctx context.Context, userID string) (*ledger.ReconcileResult, error)
	UsersActiveSince(ctx context.Context, t time.Time) ([]string, error)
}

// UserLookup resolves a user's mail address.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// ReceiptMailer delivers purchase receipts.
type ReceiptMailer interface {
	Enabled() bool
	SendReceipt(to string, r mail.Receipt) error
}

// Manager owns the job queue, its handlers and the periodic reconcile sweep.
type Manager struct {
	queue             *Queue
	balances          BalanceReconciler
	users             UserLookup
	mailer            ReceiptMailer
	reconcileInterval time.Duration
	reconcileTicker   *time.Ticker
	stopCh            chan struct{}
	wg                sync.WaitGroup
	mu                sync.Mutex
	running           bool
}

// NewManager registers the ledger job handlers on queue. A non-positive
// reconcileInterval disables the sweep.
func NewManager(queue *Queue, balances BalanceReconciler, users UserLookup, mailer ReceiptMailer, reconcileInterval time.Duration) *Manager {
	m := &Manager{
		queue:             queue,
		balances:          balances,
		users:             users,
		mailer:            mailer,
		reconcileInterval: reconcileInterval,
		stopCh:            make(chan struct{}),
	}
	queue.Register(JobTypeSendReceiptEmail, m.processReceiptEmailJob)
	queue.Register(JobTypeReconcileBalance, m.processReconcileBalanceJob)
	return m
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.reconcileInterval > 0 {
		m.reconcileTicker = time.NewTicker(m.reconcileInterval)
		m.wg.Add(1)
		go m.reconcileWorker(m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) reconcileWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started reconcile sweep (interval: %s)", m.reconcileInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Reconcile sweep stopping")
			return
		case <-m.reconcileTicker.C:
			if _, err := m.RunReconcileSweepOnce(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Reconcile sweep error: %v", err)
			}
		}
	}
}

// RunReconcileSweepOnce enqueues a reconcile job for every user with ledger
// activity in the last interval and returns how many were enqueued.
func (m *Manager) RunReconcileSweepOnce(ctx context.Context) (int, error) {
	window := m.reconcileInterval
	if window <= 0 {
		window = time.Hour
	}
	userIDs, err := m.balances.UsersActiveSince(ctx, time.Now().Add(-window))
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, id := range userIDs {
		if err := m.EnqueueReconcile(ctx, id); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	if enqueued > 0 {
		log.Infof("[JobQueue Manager] Reconcile sweep enqueued %d users", enqueued)
	}
	return enqueued, nil
}

// EnqueueReceipt schedules the receipt mail for a purchase credit.
func (m *Manager) EnqueueReceipt(ctx context.Context, userID string, tx *models.TokenTransaction) error {
	_, err := m.queue.EnqueueJob(ctx, JobTypeSendReceiptEmail, ReceiptEmailJobPayload{
		UserID:        userID,
		TransactionID: tx.ID,
		Tokens:        tx.Amount,
		Description:   tx.Description,
	})
	return err
}

// EnqueueReconcile schedules a balance reconciliation for userID.
func (m *Manager) EnqueueReconcile(ctx context.Context, userID string) error {
	_, err := m.queue.EnqueueJob(ctx, JobTypeReconcileBalance, ReconcileBalanceJobPayload{UserID: userID})
	return err
}

func (m *Manager) processReceiptEmailJob(ctx context.Context, job *Job) error {
	var payload ReceiptEmailJobPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("invalid receipt payload: %w", err)
	}
	if m.mailer == nil || !m.mailer.Enabled() {
		log.Infof("[JobQueue] Mail disabled, skipping receipt for tx %d", payload.TransactionID)
		return nil
	}
	user, err := m.users.GetByID(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", payload.UserID, err)
	}
	if user.Email == "" {
		log.Warnf("[JobQueue] User %s has no email, skipping receipt for tx %d", user.ID, payload.TransactionID)
		return nil
	}
	return m.mailer.SendReceipt(user.Email, mail.Receipt{
		TransactionID: payload.TransactionID,
		Tokens:        payload.Tokens,
		Description:   payload.Description,
	})
}

func (m *Manager) processReconcileBalanceJob(ctx context.Context, job *Job) error {
	var payload ReconcileBalanceJobPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}
	res, err := m.balances.Reconcile(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// No role or no profile yet: nothing to reconcile.
			return nil
		}
		return err
	}
	if res.Repaired {
		log.Warnf("[JobQueue] Reconciled %s: cached=%d ledger=%d", res.UserID, res.Cached, res.LedgerSum)
	}
	return nil
}
