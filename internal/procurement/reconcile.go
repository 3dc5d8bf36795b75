package procurement

import "github.com/shopspring/decimal"

// Classification of a GRN line after three-way matching.
type Classification string

const (
	ClassPerfectMatch    Classification = "perfect_match"
	ClassShortage        Classification = "shortage"
	ClassOverage         Classification = "overage"
	ClassInvoiceMismatch Classification = "invoice_mismatch"
	ClassPending         Classification = "pending"
)

// Classifications lists every classification in reporting order.
var Classifications = []Classification{ClassPerfectMatch, ClassShortage, ClassOverage, ClassInvoiceMismatch, ClassPending}

// LineReconciliation is the derived view of one line. Never persisted.
type LineReconciliation struct {
	Classification Classification
	Shortage       decimal.Decimal
	Overage        decimal.Decimal
	Lower          decimal.Decimal
	Upper          decimal.Decimal
	Matched        decimal.Decimal
}

// Reconcile compares ordered, invoiced and received quantities.
//
// The acceptable band is [min(ordered, invoiced), max(ordered, invoiced)].
// Counts below the band are a shortage, counts above are an overage. A count
// inside the band with differing ordered and invoiced values is an invoice
// mismatch, which is informational only.
func Reconcile(ordered, invoiced, received decimal.Decimal) LineReconciliation {
	return reconcile(ordered, invoiced, received, decimal.Max(ordered, invoiced))
}

// ReconcileOutstanding classifies a shortage-fulfillment line, where ordered is
// the quantity still outstanding on the PO line. A larger invoice does not
// widen the band: anything received above ordered is an overage.
func ReconcileOutstanding(ordered, invoiced, received decimal.Decimal) LineReconciliation {
	return reconcile(ordered, invoiced, received, ordered)
}

func reconcile(ordered, invoiced, received, upper decimal.Decimal) LineReconciliation {
	lower := decimal.Min(ordered, invoiced)
	out := LineReconciliation{
		Shortage: decimal.Zero,
		Overage:  decimal.Zero,
		Lower:    lower,
		Upper:    upper,
		Matched:  decimal.Min(received, upper),
	}
	switch {
	case received.LessThan(lower):
		out.Classification = ClassShortage
		out.Shortage = lower.Sub(received)
	case received.GreaterThan(upper):
		out.Classification = ClassOverage
		out.Overage = received.Sub(upper)
	case !invoiced.Equal(ordered):
		out.Classification = ClassInvoiceMismatch
	case received.IsZero():
		// nothing ordered, invoiced or counted
		out.Classification = ClassPending
	case received.Equal(ordered):
		out.Classification = ClassPerfectMatch
	default:
		out.Classification = ClassPending
	}
	return out
}

// MatchedQuantity is the received quantity bounded by the upper band limit.
func MatchedQuantity(line GRNLine) decimal.Decimal {
	return line.Reconcile().Matched
}

// Summary aggregates reconciliation across all lines of a GRN.
type Summary struct {
	Counts               map[Classification]int
	Lines                int
	AllItemsPerfectMatch bool
	HasAnyShortage       bool
	HasAnyOverage        bool
	HasInvoiceMismatch   bool
	TotalShortage        decimal.Decimal
	TotalOverage         decimal.Decimal
}

// HasDiscrepancy reports whether any line is not a perfect match.
func (s Summary) HasDiscrepancy() bool {
	return !s.AllItemsPerfectMatch
}

// Summarize reconciles each line and tallies the results.
func Summarize(lines []GRNLine) Summary {
	sum := Summary{
		Counts:        make(map[Classification]int, len(Classifications)),
		Lines:         len(lines),
		TotalShortage: decimal.Zero,
		TotalOverage:  decimal.Zero,
	}
	perfect := 0
	for _, line := range lines {
		rec := line.Reconcile()
		sum.Counts[rec.Classification]++
		switch rec.Classification {
		case ClassPerfectMatch:
			perfect++
		case ClassShortage:
			sum.HasAnyShortage = true
			sum.TotalShortage = sum.TotalShortage.Add(rec.Shortage)
		case ClassOverage:
			sum.HasAnyOverage = true
			sum.TotalOverage = sum.TotalOverage.Add(rec.Overage)
		case ClassInvoiceMismatch:
			sum.HasInvoiceMismatch = true
		}
	}
	sum.AllItemsPerfectMatch = len(lines) > 0 && perfect == len(lines)
	return sum
}

// ShortageLines returns the lines of a GRN that were under-delivered.
func ShortageLines(lines []GRNLine) []GRNLine {
	var out []GRNLine
	for _, line := range lines {
		if line.Reconcile().Shortage.IsPositive() {
			out = append(out, line)
		}
	}
	return out
}
