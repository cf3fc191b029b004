package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// LedgerService defines the ledger behavior needed by LedgerHandler.
type LedgerService interface {
	RecordTransaction(ctx context.Context, input usecase.RecordTransactionInput) (*domain.LedgerTransaction, error)
	GetTransaction(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error)
	ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error)
	SetCurrentBalance(ctx context.Context, input usecase.SetBalanceInput) (*domain.BalanceSnapshot, error)
	CurrentBalances(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error)
	BalanceHistory(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error)
}

// PaymentReverser undoes a payment and rewinds its obligation.
type PaymentReverser interface {
	ReversePayment(ctx context.Context, ownerID, txID string) (*domain.LedgerTransaction, error)
}

// LedgerHandler handles transactions and balances.
type LedgerHandler struct {
	ledgerUC LedgerService
	reverser PaymentReverser
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerUC LedgerService, reverser PaymentReverser) *LedgerHandler {
	return &LedgerHandler{ledgerUC: ledgerUC, reverser: reverser}
}

// RecordTransaction records a manual transaction.
func (h *LedgerHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.RecordTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	input, err := req.ToUseCaseInput(owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	txn, err := h.ledgerUC.RecordTransaction(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to record transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.TransactionFromDomain(txn))
}

// GetTransaction retrieves a transaction by ID.
func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	txn, err := h.ledgerUC.GetTransaction(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "failed to get transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(txn))
}

// ListTransactions lists the owner's transactions, newest first.
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	txns, err := h.ledgerUC.ListTransactions(r.Context(), owner, parseIntQuery(r, "limit", 50), parseIntQuery(r, "offset", 0))
	if err != nil {
		writeDomainError(w, "failed to list transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListTransactionsResponse{
		Transactions: dto.TransactionsFromDomain(txns),
		Total:        len(txns),
	})
}

// ReverseTransaction undoes a payment. A reversal that leaves an orphaned
// transaction answers 500 with the reversed transaction's ID in the message.
func (h *LedgerHandler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	txn, err := h.reverser.ReversePayment(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrphanedTransaction) && txn != nil {
			writeError(w, http.StatusInternalServerError, "reversal incomplete",
				fmt.Sprintf("transaction %s: %v", txn.ID, err))
			return
		}
		writeDomainError(w, "failed to reverse transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(txn))
}

// ListBalances returns the current balance of every scope.
func (h *LedgerHandler) ListBalances(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	balances, err := h.ledgerUC.CurrentBalances(r.Context(), owner)
	if err != nil {
		writeDomainError(w, "failed to list balances", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListBalancesResponse{Balances: dto.BalancesFromDomain(balances)})
}

// SetBalance replaces the current balance of a scope.
func (h *LedgerHandler) SetBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req dto.SetBalanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	input, err := req.ToUseCaseInput(owner, chi.URLParam(r, "scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	snapshot, err := h.ledgerUC.SetCurrentBalance(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to set balance", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceFromDomain(snapshot))
}

// BalanceHistory lists the snapshots of a scope, newest first.
func (h *LedgerHandler) BalanceHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}

	history, err := h.ledgerUC.BalanceHistory(r.Context(), owner, chi.URLParam(r, "scope"),
		parseIntQuery(r, "limit", 50), parseIntQuery(r, "offset", 0))
	if err != nil {
		writeDomainError(w, "failed to get balance history", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListBalancesResponse{Balances: dto.BalancesFromDomain(history)})
}
