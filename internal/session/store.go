// Package session drives analysis sessions through their lifecycle:
// pending -> processing -> {completed, failed}, pending/processing ->
// cancelled, failed -> pending (retry). Every transition is a conditional
// update on the expected prior status, so a user cancel and a concurrently
// completing processor can never both win.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/equilens/equilens/internal/ledger"
	"github.com/equilens/equilens/internal/models"
	"github.com/equilens/equilens/internal/pricing"
	"github.com/equilens/equilens/internal/queue"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AnalysisDispatcher hands a job envelope to the analysis lane.
type AnalysisDispatcher interface {
	DispatchAnalysis(ctx context.Context, job queue.AnalysisJob) error
}

// Store owns session records and their ledger side effects.
type Store struct {
	db         *gorm.DB
	tokens     *ledger.Service
	dispatcher AnalysisDispatcher
}

// NewStore constructs a session Store.
func NewStore(db *gorm.DB, tokens *ledger.Service, dispatcher AnalysisDispatcher) *Store {
	return &Store{db: db, tokens: tokens, dispatcher: dispatcher}
}

// Submit prices the analysis, debits the organization and creates the session
// in one transaction, then enqueues the analysis job. The cost is snapshotted
// on the session; later pricing changes never touch it. When the job cannot
// be queued the submission is reversed, session and debit included, and the
// failure is returned so the caller can resubmit.
func (s *Store) Submit(ctx context.Context, organizationID uint64, analysisType models.AnalysisType, mediaURLs []string, metadata map[string]any) (*models.AnalysisSession, error) {
	if !pricing.IsKnownType(analysisType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnalysisType, analysisType)
	}
	cost := pricing.Cost(analysisType)
	if mediaURLs == nil {
		mediaURLs = []string{}
	}

	var created models.AnalysisSession
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created = models.AnalysisSession{
			OrganizationID: organizationID,
			Type:           analysisType,
			Status:         models.SessionStatusPending,
			TokensConsumed: cost,
			InputMediaURLs: marshalJSON(mediaURLs),
			Metadata:       marshalMetadata(metadata),
			CreatedAt:      time.Now().UTC(),
		}
		if errCreate := tx.Create(&created).Error; errCreate != nil {
			return fmt.Errorf("session: create: %w", errCreate)
		}

		_, errDebit := s.tokens.DebitTx(ctx, tx, organizationID, cost,
			fmt.Sprintf("analysis submission (%s)", analysisType),
			map[string]any{"session_id": created.ID, "analysis_type": analysisType})
		return mapLedgerErr(errDebit)
	})
	if errTx != nil {
		return nil, errTx
	}

	if errDispatch := s.dispatch(ctx, &created); errDispatch != nil {
		s.undoSubmit(ctx, &created)
		return nil, errDispatch
	}
	return &created, nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, sessionID uint64) (*models.AnalysisSession, error) {
	var record models.AnalysisSession
	errFind := s.db.WithContext(ctx).Take(&record, sessionID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: query: %w", errFind)
	}
	return &record, nil
}

// ListByOrganization returns sessions for an organization, newest first.
func (s *Store) ListByOrganization(ctx context.Context, organizationID uint64, limit int) ([]models.AnalysisSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []models.AnalysisSession
	errFind := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if errFind != nil {
		return nil, fmt.Errorf("session: list: %w", errFind)
	}
	return records, nil
}

// Cancel moves a pending or processing session to cancelled. Tokens are
// refunded only when the session had not started processing; work already
// under way is sunk.
func (s *Store) Cancel(ctx context.Context, sessionID uint64) (*models.AnalysisSession, error) {
	var updated *models.AnalysisSession
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, errLoad := loadForUpdate(ctx, tx, sessionID)
		if errLoad != nil {
			return errLoad
		}
		prior := record.Status
		if prior != models.SessionStatusPending && prior != models.SessionStatusProcessing {
			return ErrInvalidTransition
		}

		now := time.Now().UTC()
		res := tx.Model(&models.AnalysisSession{}).
			Where("id = ? AND status = ?", sessionID, prior).
			Updates(map[string]any{
				"status":       models.SessionStatusCancelled,
				"completed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("session: cancel: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		if prior == models.SessionStatusPending {
			if _, errCredit := s.tokens.CreditTx(ctx, tx, record.OrganizationID, record.TokensConsumed,
				"analysis cancelled before processing",
				map[string]any{"session_id": record.ID}); errCredit != nil {
				return mapLedgerErr(errCredit)
			}
		}

		record.Status = models.SessionStatusCancelled
		record.CompletedAt = &now
		updated = record
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return updated, nil
}

// Delete removes a session record, applying the same refund rule as Cancel.
func (s *Store) Delete(ctx context.Context, sessionID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, errLoad := loadForUpdate(ctx, tx, sessionID)
		if errLoad != nil {
			return errLoad
		}
		prior := record.Status

		res := tx.Where("id = ? AND status = ?", sessionID, prior).
			Delete(&models.AnalysisSession{})
		if res.Error != nil {
			return fmt.Errorf("session: delete: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		if prior == models.SessionStatusPending {
			if _, errCredit := s.tokens.CreditTx(ctx, tx, record.OrganizationID, record.TokensConsumed,
				"analysis deleted before processing",
				map[string]any{"session_id": record.ID}); errCredit != nil {
				return mapLedgerErr(errCredit)
			}
		}
		return nil
	})
}

// Retry re-debits a failed session at the current price and resets it to
// pending, clearing the previous error and result. The original debit entry
// is left untouched.
func (s *Store) Retry(ctx context.Context, sessionID uint64) (*models.AnalysisSession, error) {
	var updated *models.AnalysisSession
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, errLoad := loadForUpdate(ctx, tx, sessionID)
		if errLoad != nil {
			return errLoad
		}
		if record.Status != models.SessionStatusFailed {
			return ErrInvalidTransition
		}

		cost := pricing.Cost(record.Type)
		if _, errDebit := s.tokens.DebitTx(ctx, tx, record.OrganizationID, cost,
			fmt.Sprintf("analysis retry (%s)", record.Type),
			map[string]any{"session_id": record.ID, "analysis_type": record.Type}); errDebit != nil {
			return mapLedgerErr(errDebit)
		}

		res := tx.Model(&models.AnalysisSession{}).
			Where("id = ? AND status = ?", sessionID, models.SessionStatusFailed).
			Updates(map[string]any{
				"status":          models.SessionStatusPending,
				"tokens_consumed": cost,
				"error_message":   "",
				"result_payload":  nil,
				"started_at":      nil,
				"completed_at":    nil,
			})
		if res.Error != nil {
			return fmt.Errorf("session: retry: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		record.Status = models.SessionStatusPending
		record.TokensConsumed = cost
		record.ErrorMessage = ""
		record.ResultPayload = nil
		record.StartedAt = nil
		record.CompletedAt = nil
		updated = record
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	if errDispatch := s.dispatch(ctx, updated); errDispatch != nil {
		s.undoRetry(ctx, updated)
		return nil, errDispatch
	}
	return updated, nil
}

// MarkProcessing flips pending -> processing. It reports false without error
// when the session left pending meanwhile (e.g. a concurrent cancel).
func (s *Store) MarkProcessing(ctx context.Context, sessionID uint64) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AnalysisSession{}).
		Where("id = ? AND status = ?", sessionID, models.SessionStatusPending).
		Updates(map[string]any{
			"status":     models.SessionStatusProcessing,
			"started_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("session: mark processing: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkCompleted flips processing -> completed and stores the engine result.
// A no-op when the session was cancelled while the engine ran.
func (s *Store) MarkCompleted(ctx context.Context, sessionID uint64, result datatypes.JSON) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AnalysisSession{}).
		Where("id = ? AND status = ?", sessionID, models.SessionStatusProcessing).
		Updates(map[string]any{
			"status":         models.SessionStatusCompleted,
			"result_payload": result,
			"completed_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("session: mark completed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed flips processing -> failed with the terminal error message.
// No refund is issued; tokens spent on a failed run are sunk.
func (s *Store) MarkFailed(ctx context.Context, sessionID uint64, message string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AnalysisSession{}).
		Where("id = ? AND status = ?", sessionID, models.SessionStatusProcessing).
		Updates(map[string]any{
			"status":        models.SessionStatusFailed,
			"error_message": message,
			"completed_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("session: mark failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// dispatch enqueues the analysis job for a pending session.
func (s *Store) dispatch(ctx context.Context, record *models.AnalysisSession) error {
	if s.dispatcher == nil || record == nil {
		return nil
	}
	job := queue.AnalysisJob{
		SessionID:      record.ID,
		OrganizationID: record.OrganizationID,
		Type:           record.Type,
		InputMediaURLs: unmarshalURLs(record.InputMediaURLs),
		Metadata:       unmarshalMap(record.Metadata),
	}
	if errDispatch := s.dispatcher.DispatchAnalysis(ctx, job); errDispatch != nil {
		return fmt.Errorf("session %d: enqueue analysis: %w", record.ID, errDispatch)
	}
	return nil
}

// undoSubmit reverses a submission whose analysis job could not be queued.
// The pending row is removed and the debit refunded, so a resubmit after
// the queue recovers starts from a clean ledger.
func (s *Store) undoSubmit(ctx context.Context, record *models.AnalysisSession) {
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND status = ?", record.ID, models.SessionStatusPending).
			Delete(&models.AnalysisSession{})
		if res.Error != nil {
			return fmt.Errorf("session: undo submit: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		_, errCredit := s.tokens.CreditTx(ctx, tx, record.OrganizationID, record.TokensConsumed,
			"analysis enqueue failed",
			map[string]any{"session_id": record.ID})
		return mapLedgerErr(errCredit)
	})
	if errTx != nil {
		log.WithError(errTx).Errorf("session %d: rollback after enqueue failure", record.ID)
	}
}

// undoRetry reverses a retry whose analysis job could not be queued. The
// session returns to failed with the queue error recorded and the fresh
// debit is refunded, keeping a later retry possible.
func (s *Store) undoRetry(ctx context.Context, record *models.AnalysisSession) {
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AnalysisSession{}).
			Where("id = ? AND status = ?", record.ID, models.SessionStatusPending).
			Updates(map[string]any{
				"status":        models.SessionStatusFailed,
				"error_message": "analysis enqueue failed",
				"completed_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("session: undo retry: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		_, errCredit := s.tokens.CreditTx(ctx, tx, record.OrganizationID, record.TokensConsumed,
			"analysis retry enqueue failed",
			map[string]any{"session_id": record.ID})
		return mapLedgerErr(errCredit)
	})
	if errTx != nil {
		log.WithError(errTx).Errorf("session %d: rollback after enqueue failure", record.ID)
	}
}

// loadForUpdate fetches a session inside a transaction.
func loadForUpdate(ctx context.Context, tx *gorm.DB, sessionID uint64) (*models.AnalysisSession, error) {
	var record models.AnalysisSession
	if errFind := tx.WithContext(ctx).Take(&record, sessionID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: query: %w", errFind)
	}
	return &record, nil
}

// mapLedgerErr converts ledger sentinels into session-level taxonomy errors.
func mapLedgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return ErrInsufficientTokens
	case errors.Is(err, ledger.ErrAccountNotFound):
		return ErrNotFound
	default:
		return err
	}
}

// marshalJSON serializes a value into a JSON column, nil on failure or empty.
func marshalJSON(value any) datatypes.JSON {
	if value == nil {
		return nil
	}
	raw, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// marshalMetadata serializes submission metadata, keeping the column NULL
// when there is none.
func marshalMetadata(metadata map[string]any) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	return marshalJSON(metadata)
}

// unmarshalURLs decodes the stored media URL list.
func unmarshalURLs(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var urls []string
	if errUnmarshal := json.Unmarshal(raw, &urls); errUnmarshal != nil {
		return nil
	}
	return urls
}

// unmarshalMap decodes stored metadata.
func unmarshalMap(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var data map[string]any
	if errUnmarshal := json.Unmarshal(raw, &data); errUnmarshal != nil {
		return nil
	}
	return data
}
