package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"leaguehub.com/app/internal/events"
)

type Config struct {
	MinAmount         int64
	IdempotencyWindow time.Duration
	ProcessorTimeout  time.Duration
	LockTTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinAmount:         50,
		IdempotencyWindow: 10 * time.Minute,
		ProcessorTimeout:  10 * time.Second,
		LockTTL:           30 * time.Second,
	}
}

// Notifier is told when new outbox rows have been committed.
type Notifier interface {
	Notify()
}

// Service is the payment lifecycle manager: it creates processor intents,
// records them and reconciles processor-reported outcomes.
type Service struct {
	db        *gorm.DB
	repo      *Repo
	processor Processor
	locker    Locker
	incidents *IncidentRecorder
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(db *gorm.DB, p Processor, cfg Config) *Service {
	return &Service{
		db:        db,
		repo:      NewRepo(db),
		processor: p,
		locker:    NewMemoryLocker(),
		incidents: NewIncidentRecorder(db, nil),
		cfg:       cfg,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
	s.incidents.SetLogger(logger)
}

func (s *Service) SetLocker(l Locker)                      { s.locker = l }
func (s *Service) SetIncidentRecorder(r *IncidentRecorder) { s.incidents = r }
func (s *Service) SetNotifier(n Notifier)                  { s.notifier = n }

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.repo.SetClock(now)
}

func (s *Service) Repo() *Repo          { return s.repo }
func (s *Service) Processor() Processor { return s.processor }

type RequestPaymentInput struct {
	ResourceID  string
	Amount      int64
	Currency    string
	Description string
}

type RequestPaymentResult struct {
	PaymentID         string
	ProcessorIntentID string
	ClientSecret      string
	Amount            int64
	Currency          string
	Status            Status
	CreatedAt         time.Time
}

// RequestPayment creates a processor intent for resourceID and records it as
// CREATED. On any error no local record exists.
func (s *Service) RequestPayment(ctx context.Context, principalID string, in RequestPaymentInput) (RequestPaymentResult, error) {
	principalID = strings.TrimSpace(principalID)
	resourceID := strings.TrimSpace(in.ResourceID)
	if principalID == "" || resourceID == "" {
		return RequestPaymentResult{}, ErrInvalidRequest
	}
	if in.Amount < s.cfg.MinAmount {
		return RequestPaymentResult{}, fmt.Errorf("%w: %d is below the minimum of %d", ErrInvalidAmount, in.Amount, s.cfg.MinAmount)
	}
	currency, err := NormalizeCurrency(in.Currency)
	if err != nil {
		return RequestPaymentResult{}, err
	}

	unlock, ok, err := s.locker.TryLock(ctx, "payments:resource:"+resourceID, s.cfg.LockTTL)
	if err != nil {
		return RequestPaymentResult{}, fmt.Errorf("lock resource %s: %w", resourceID, err)
	}
	if !ok {
		return RequestPaymentResult{}, ErrPaymentAlreadyInProgress
	}
	defer unlock()

	inFlight, err := s.repo.ExistsForResourceWithStatus(ctx, resourceID, StatusCreated)
	if err != nil {
		return RequestPaymentResult{}, err
	}
	if inFlight {
		return RequestPaymentResult{}, ErrPaymentAlreadyInProgress
	}

	attempt, err := s.repo.CountForResource(ctx, resourceID)
	if err != nil {
		return RequestPaymentResult{}, err
	}
	key := IdempotencyKey(principalID, resourceID, in.Amount, currency, attempt, s.cfg.IdempotencyWindow, s.now())

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
	intent, err := s.processor.CreateIntent(pctx, CreateIntentRequest{
		Amount:      in.Amount,
		Currency:    currency,
		Description: in.Description,
		Metadata: map[string]string{
			"principal_id": principalID,
			"resource_id":  resourceID,
		},
		IdempotencyKey: key,
	})
	cancel()
	if err != nil {
		if errors.Is(err, ErrProcessorRejected) {
			s.logger.WarnContext(ctx, "payment intent rejected", "resource_id", resourceID, "err", err)
			return RequestPaymentResult{}, fmt.Errorf("%w: %v", ErrPaymentRejected, err)
		}
		s.logger.WarnContext(ctx, "payment processor unavailable", "resource_id", resourceID, "err", err)
		return RequestPaymentResult{}, fmt.Errorf("%w: %v", ErrPaymentProcessorTimeout, err)
	}
	if intent.ID == "" {
		return RequestPaymentResult{}, fmt.Errorf("%w: processor returned no intent id", ErrPaymentProcessorTimeout)
	}
	if intent.Amount != in.Amount || !strings.EqualFold(intent.Currency, currency) {
		s.logger.ErrorContext(ctx, "processor intent does not match request",
			"intent_id", intent.ID, "resource_id", resourceID,
			"amount", in.Amount, "currency", currency, "intent_amount", intent.Amount, "intent_currency", intent.Currency)
		return RequestPaymentResult{}, fmt.Errorf("%w: requested %d %s, intent %s has %d %s",
			ErrIntentMismatch, in.Amount, currency, intent.ID, intent.Amount, intent.Currency)
	}

	intentID := intent.ID
	p := &Payment{
		PrincipalID:       principalID,
		ResourceID:        resourceID,
		Status:            StatusCreated,
		Processor:         s.processor.Name(),
		ProcessorIntentID: &intentID,
		IdempotencyKey:    key,
		Amount:            in.Amount,
		Currency:          currency,
		Description:       truncate(in.Description, 255),
	}
	if err := s.repo.Save(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateProcessorIntent) {
			// the processor replayed an intent that is already on record
			return RequestPaymentResult{}, fmt.Errorf("%w: intent %s", ErrDuplicatePaymentRequest, intentID)
		}
		if errors.Is(err, ErrPaymentAlreadyInProgress) {
			return RequestPaymentResult{}, ErrPaymentAlreadyInProgress
		}
		// A retry with the same key gets the same intent back.
		s.logger.ErrorContext(ctx, "payment intent created but not recorded", "intent_id", intentID, "resource_id", resourceID, "err", err)
		return RequestPaymentResult{}, fmt.Errorf("record payment: %w", err)
	}

	s.logger.InfoContext(ctx, "payment intent created",
		"payment_id", p.ID, "intent_id", intentID, "resource_id", resourceID, "amount", p.Amount, "currency", p.Currency)

	return RequestPaymentResult{
		PaymentID:         p.ID,
		ProcessorIntentID: intentID,
		ClientSecret:      intent.ClientSecret,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Status:            p.Status,
		CreatedAt:         p.CreatedAt,
	}, nil
}

type ReconcileInput struct {
	IntentID string
	Status   string
	Amount   int64
	Currency string
}

type ReconcileResult struct {
	Payment Payment
	// Applied is false when the payment was already terminal.
	Applied bool
	// Pending is set when the processor has not settled the intent yet.
	Pending bool
}

// Reconcile applies a processor-reported status to the local record. Replays
// against a terminal payment succeed without side effects. The outcome event
// is enqueued in the same transaction as the transition.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	intentID := strings.TrimSpace(in.IntentID)
	if intentID == "" {
		return ReconcileResult{}, ErrUnknownPaymentIntent
	}

	if to, err := MapProcessorStatus(in.Status); err == nil && to == StatusFailed {
		settled, pending, err := s.settleFailure(ctx, intentID, in)
		if err != nil {
			return ReconcileResult{}, err
		}
		if pending != nil {
			s.logger.InfoContext(ctx, "failed intent still settling at processor", "payment_id", pending.ID, "intent_id", intentID)
			return ReconcileResult{Payment: *pending, Pending: true}, nil
		}
		in = settled
	}

	var res ReconcileResult
	var incident *IncidentReport

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		p, err := repo.FindByProcessorIntentIDForUpdate(ctx, intentID)
		if errors.Is(err, ErrPaymentNotFound) {
			return ErrUnknownPaymentIntent
		}
		if err != nil {
			return err
		}

		if p.Status.IsTerminal() {
			res = ReconcileResult{Payment: *p}
			return nil
		}

		reportedCurrency := strings.ToLower(strings.TrimSpace(in.Currency))
		if in.Amount != p.Amount || reportedCurrency != p.Currency {
			incident = &IncidentReport{Kind: IncidentAmountMismatch, Payment: *p, Reported: in}
			return fmt.Errorf("%w: stored %d %s, reported %d %s", ErrPaymentAmountMismatch, p.Amount, p.Currency, in.Amount, in.Currency)
		}

		to, err := MapProcessorStatus(in.Status)
		if err != nil {
			incident = &IncidentReport{Kind: IncidentUnknownStatus, Payment: *p, Reported: in}
			return err
		}

		at := s.now()
		moved, err := repo.TransitionToTerminal(ctx, p, to, at)
		if err != nil {
			return err
		}
		if !moved {
			cur, err := repo.FindByID(ctx, p.ID)
			if err != nil {
				return err
			}
			res = ReconcileResult{Payment: *cur}
			return nil
		}

		ev := events.NewPaymentOutcome(p.ID, p.PrincipalID, p.ResourceID, p.Amount, p.Currency, string(to), at)
		if err := enqueueOutbox(ctx, tx, ev, at); err != nil {
			return err
		}
		res = ReconcileResult{Payment: *p, Applied: true}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownPaymentIntent):
		s.logger.WarnContext(ctx, "notification for unknown intent discarded", "intent_id", intentID, "status", in.Status)
		return ReconcileResult{}, err
	case IsIntegrityError(err):
		s.logger.ErrorContext(ctx, "payment integrity violation", "intent_id", intentID, "err", err)
		if incident != nil {
			if _, rerr := s.incidents.Record(ctx, *incident); rerr != nil {
				s.logger.ErrorContext(ctx, "failed to record integrity incident", "intent_id", intentID, "err", rerr)
			}
		}
		return ReconcileResult{}, err
	default:
		return ReconcileResult{}, fmt.Errorf("reconcile %s: %w", intentID, err)
	}

	if !res.Applied {
		s.logger.InfoContext(ctx, "reconcile replay ignored", "payment_id", res.Payment.ID, "intent_id", intentID, "status", res.Payment.Status)
		return res, nil
	}

	s.logger.InfoContext(ctx, "payment reconciled",
		"payment_id", res.Payment.ID, "intent_id", intentID, "resource_id", res.Payment.ResourceID, "status", res.Payment.Status)
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return res, nil
}

// settleFailure cancels a failed intent at the processor before FAILED is
// recorded; a failed intent can otherwise still be paid. It returns the input
// to reconcile, or the payment when the processor has not settled yet. The
// transaction in Reconcile handles unknown, terminal and mismatched payments.
func (s *Service) settleFailure(ctx context.Context, intentID string, in ReconcileInput) (ReconcileInput, *Payment, error) {
	canceler, ok := s.processor.(IntentCanceler)
	if !ok {
		return in, nil, nil
	}
	p, err := s.repo.FindByProcessorIntentID(ctx, intentID)
	if errors.Is(err, ErrPaymentNotFound) {
		return in, nil, nil
	}
	if err != nil {
		return in, nil, err
	}
	if p.Status != StatusCreated || in.Amount != p.Amount || strings.ToLower(strings.TrimSpace(in.Currency)) != p.Currency {
		return in, nil, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
	intent, err := canceler.CancelIntent(pctx, intentID)
	cancel()
	if err != nil {
		s.logger.WarnContext(ctx, "cancel failed intent", "payment_id", p.ID, "intent_id", intentID, "err", err)
		if errors.Is(err, ErrProcessorRejected) {
			return in, nil, fmt.Errorf("%w: %v", ErrPaymentRejected, err)
		}
		return in, nil, fmt.Errorf("%w: %v", ErrPaymentProcessorTimeout, err)
	}

	to, err := MapProcessorStatus(intent.Status)
	switch {
	case err != nil:
		return in, p, nil
	case to == StatusSucceeded:
		s.logger.WarnContext(ctx, "failed intent was paid before cancel", "payment_id", p.ID, "intent_id", intentID)
		return ReconcileInput{IntentID: intentID, Status: intent.Status, Amount: intent.Amount, Currency: intent.Currency}, nil, nil
	default:
		return in, nil, nil
	}
}

// PollAndReconcile fetches the intent from the processor and reconciles it if
// it has settled.
func (s *Service) PollAndReconcile(ctx context.Context, intentID string) (ReconcileResult, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
	intent, err := s.processor.FetchIntent(pctx, intentID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrProcessorRejected) {
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrPaymentRejected, err)
		}
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrPaymentProcessorTimeout, err)
	}

	if IsPendingProcessorStatus(intent.Status) {
		p, err := s.repo.FindByProcessorIntentID(ctx, intentID)
		if errors.Is(err, ErrPaymentNotFound) {
			return ReconcileResult{}, ErrUnknownPaymentIntent
		}
		if err != nil {
			return ReconcileResult{}, err
		}
		return ReconcileResult{Payment: *p, Pending: true}, nil
	}

	return s.Reconcile(ctx, ReconcileInput{
		IntentID: intent.ID,
		Status:   intent.Status,
		Amount:   intent.Amount,
		Currency: intent.Currency,
	})
}

// GetPayment returns a payment owned by principalID.
func (s *Service) GetPayment(ctx context.Context, principalID, id string) (Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if p.PrincipalID != principalID {
		return Payment{}, ErrForbidden
	}
	return *p, nil
}

// LatestForResource returns the most recent payment for resourceID if it
// belongs to principalID.
func (s *Service) LatestForResource(ctx context.Context, principalID, resourceID string) (Payment, error) {
	p, err := s.repo.MostRecentForResource(ctx, resourceID)
	if err != nil {
		return Payment{}, err
	}
	if p.PrincipalID != principalID {
		return Payment{}, ErrForbidden
	}
	return *p, nil
}

// NormalizeCurrency lowercases a 3-letter ISO code.
func NormalizeCurrency(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if len(c) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
	}
	for _, r := range c {
		if r < 'a' || r > 'z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
		}
	}
	return c, nil
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
