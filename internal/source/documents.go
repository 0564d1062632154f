// Package source reads transaction documents from the host application.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

// ErrDocumentNotFound is returned when the host has no such document.
var ErrDocumentNotFound = errors.New("source document not found")

// Documents fetches the current state of a source document.
type Documents interface {
	Fetch(ctx context.Context, ref domain.DocumentRef) (domain.TransactionDocument, error)
}

// AsAppError maps a fetch failure to the API error taxonomy.
func AsAppError(ref domain.DocumentRef, err error) *apperrors.AppError {
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr
	}
	if errors.Is(err, ErrDocumentNotFound) {
		return apperrors.NotFound(apperrors.CodeSourceDocumentNotFound,
			fmt.Sprintf("%s not found in the source ledger", ref)).
			WithParam("doctype", ref.Doctype).
			WithParam("name", ref.Name)
	}
	return apperrors.Wrap(err, apperrors.CodeSourceUnavailable,
		"source ledger is unavailable", http.StatusBadGateway)
}

// MemoryDocuments is an in-memory Documents for tests and local runs.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[domain.DocumentRef]domain.TransactionDocument
	err  error
}

// NewMemoryDocuments creates a MemoryDocuments holding docs.
func NewMemoryDocuments(docs ...domain.TransactionDocument) *MemoryDocuments {
	m := &MemoryDocuments{docs: make(map[domain.DocumentRef]domain.TransactionDocument)}
	for _, d := range docs {
		m.docs[d.Ref()] = d
	}
	return m
}

// Put stores or replaces a document.
func (m *MemoryDocuments) Put(doc domain.TransactionDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Ref()] = doc
}

// Delete removes a document.
func (m *MemoryDocuments) Delete(ref domain.DocumentRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, ref)
}

// SetError makes every Fetch fail with err until cleared with nil.
func (m *MemoryDocuments) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Fetch implements Documents.
func (m *MemoryDocuments) Fetch(_ context.Context, ref domain.DocumentRef) (domain.TransactionDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return domain.TransactionDocument{}, m.err
	}
	d, ok := m.docs[ref]
	if !ok {
		return domain.TransactionDocument{}, fmt.Errorf("%s: %w", ref, ErrDocumentNotFound)
	}
	return cloneDocument(d), nil
}

func cloneDocument(d domain.TransactionDocument) domain.TransactionDocument {
	d.Items = append([]domain.DocumentItem(nil), d.Items...)
	d.Taxes = append([]domain.TaxLine(nil), d.Taxes...)
	d.Accounts = append([]domain.AccountLine(nil), d.Accounts...)
	return d
}
