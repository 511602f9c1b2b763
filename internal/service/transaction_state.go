package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/repository"
)

// Only deposits and withdrawals are ever pending; everything else is born
// completed and never moves.
var transactionTransitions = map[string]map[string]struct{}{
	domain.TxStatusPending: {
		domain.TxStatusCompleted: {},
		domain.TxStatusFailed:    {},
	},
	domain.TxStatusCompleted: {},
	domain.TxStatusFailed:    {},
}

func normalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	current = normalizeState(current)
	next = normalizeState(next)
	nextStates, ok := transactionTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func transitionTransactionState(ctx context.Context, qtx repository.Querier, audit *AuditService, transactionID uuid.UUID, nextState string, actorID *uuid.UUID, action string, metadata []byte) error {
	currentState, err := qtx.GetTransactionStatusForUpdate(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("get current transaction state: %w", err)
	}

	if normalizeState(currentState) == normalizeState(nextState) {
		return nil
	}
	if !canTransition(currentState, nextState) {
		return fmt.Errorf("%w: transaction %s -> %s", domain.ErrInvalidTransition, currentState, nextState)
	}

	rows, err := qtx.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
		Status: nextState,
		ID:     transactionID,
	})
	if err != nil {
		return fmt.Errorf("update transaction state: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("%w: transaction %s changed underneath", domain.ErrConcurrentModification, transactionID)
	}

	return audit.Write(ctx, qtx, "transaction", transactionID, actorID, action, currentState, nextState, metadata)
}
