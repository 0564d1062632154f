package resolver

import (
	"github.com/shopspring/decimal"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// Classifier assigns a priority to a new request.
type Classifier interface {
	Classify(doc domain.TransactionDocument, ref domain.MasterRef) domain.Priority
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(doc domain.TransactionDocument, ref domain.MasterRef) domain.Priority

func (f ClassifierFunc) Classify(doc domain.TransactionDocument, ref domain.MasterRef) domain.Priority {
	return f(doc, ref)
}

// ThresholdClassifier raises priority with the document's grand total.
// Party ledgers are at least High: nothing posts until they exist.
type ThresholdClassifier struct {
	High   decimal.Decimal
	Urgent decimal.Decimal
}

// NewThresholdClassifier creates a ThresholdClassifier.
func NewThresholdClassifier(high, urgent decimal.Decimal) ThresholdClassifier {
	return ThresholdClassifier{High: high, Urgent: urgent}
}

func (c ThresholdClassifier) Classify(doc domain.TransactionDocument, ref domain.MasterRef) domain.Priority {
	p := domain.PriorityNormal
	if ref.Type.IsParty() {
		p = domain.PriorityHigh
	}
	total := doc.GrandTotal.Abs()
	switch {
	case !c.Urgent.IsZero() && total.GreaterThanOrEqual(c.Urgent):
		p = p.Max(domain.PriorityUrgent)
	case !c.High.IsZero() && total.GreaterThanOrEqual(c.High):
		p = p.Max(domain.PriorityHigh)
	}
	return p
}
