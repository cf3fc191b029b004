package calculator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/iho/cashflow/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestInstallmentAmount_RemainderOnLastPeriod(t *testing.T) {
	t.Parallel()

	want := []string{"333.33", "333.33", "333.34"}
	sum := decimal.Zero

	for i, w := range want {
		got, err := InstallmentAmount(dec("1000.00"), 3, i)
		if err != nil {
			t.Fatalf("period %d: unexpected error: %v", i, err)
		}
		if !got.Equal(dec(w)) {
			t.Errorf("period %d: expected %s, got %s", i, w, got)
		}
		sum = sum.Add(got)
	}

	if !sum.Equal(dec("1000.00")) {
		t.Errorf("expected periods to sum to 1000.00, got %s", sum)
	}
}

func TestInstallmentAmount_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		total   string
		count   int
		period  int
		wantErr error
	}{
		{"zero count", "100", 0, 0, domain.ErrInvalidObligation},
		{"zero total", "0", 2, 0, domain.ErrInvalidObligation},
		{"period past end", "100", 2, 2, domain.ErrInvalidSchedule},
		{"negative period", "100", 2, -1, domain.ErrInvalidSchedule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InstallmentAmount(dec(tt.total), tt.count, tt.period)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoanSchedule_FinalPaymentCoversRemainder(t *testing.T) {
	t.Parallel()

	loan := &domain.Loan{
		ObligationBase:     obligationBase(date(2024, 1, 1), "0"),
		Principal:          dec("200.00"),
		AnnualInterestRate: dec("0.12"),
		MonthlyPayment:     dec("101.00"),
	}

	periods, err := LoanSchedule(loan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(periods) != 3 {
		t.Fatalf("expected 3 periods, got %d", len(periods))
	}

	want := []struct {
		payment, interest, principal, remaining string
	}{
		{"101.00", "2.00", "99.00", "101.00"},
		{"101.00", "1.01", "99.99", "1.01"},
		{"1.02", "0.01", "1.01", "0"},
	}
	for i, w := range want {
		p := periods[i]
		if !p.Payment.Equal(dec(w.payment)) || !p.Interest.Equal(dec(w.interest)) ||
			!p.Principal.Equal(dec(w.principal)) || !p.RemainingBalance.Equal(dec(w.remaining)) {
			t.Errorf("period %d: got payment=%s interest=%s principal=%s remaining=%s",
				i, p.Payment, p.Interest, p.Principal, p.RemainingBalance)
		}
	}
	if !periods[0].DueDate.Equal(date(2024, 2, 1)) {
		t.Errorf("expected first payment one month after start, got %s", periods[0].DueDate)
	}

	amount, err := PeriodAmount(loan, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(dec("1.02")) {
		t.Errorf("expected final PeriodAmount 1.02, got %s", amount)
	}
}

func TestLoanSchedule_ZeroRate(t *testing.T) {
	t.Parallel()

	loan := &domain.Loan{
		ObligationBase: obligationBase(date(2024, 1, 1), "0"),
		Principal:      dec("1000.00"),
		MonthlyPayment: dec("300.00"),
	}

	periods, err := LoanSchedule(loan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payments := []string{"300.00", "300.00", "300.00", "100.00"}
	if len(periods) != len(payments) {
		t.Fatalf("expected %d periods, got %d", len(payments), len(periods))
	}
	for i, want := range payments {
		if !periods[i].Payment.Equal(dec(want)) {
			t.Errorf("period %d: expected %s, got %s", i, want, periods[i].Payment)
		}
		if !periods[i].Interest.IsZero() {
			t.Errorf("period %d: expected no interest, got %s", i, periods[i].Interest)
		}
	}
}

func TestLoanSchedule_PaymentBelowInterest(t *testing.T) {
	t.Parallel()

	loan := &domain.Loan{
		ObligationBase:     obligationBase(date(2024, 1, 1), "0"),
		Principal:          dec("1000.00"),
		AnnualInterestRate: dec("0.12"),
		MonthlyPayment:     dec("10.00"),
	}

	if _, err := LoanSchedule(loan); !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
	if err := ValidateSchedule(loan); !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("expected ValidateSchedule to reject the loan, got %v", err)
	}
}

func TestLoanSchedule_TooLong(t *testing.T) {
	t.Parallel()

	loan := &domain.Loan{
		ObligationBase: obligationBase(date(2024, 1, 1), "0"),
		Principal:      dec("1000000.00"),
		MonthlyPayment: dec("1.00"),
	}

	if _, err := LoanSchedule(loan); !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestOutstandingBalance(t *testing.T) {
	t.Parallel()

	loan := &domain.Loan{
		ObligationBase:     obligationBase(date(2024, 1, 1), "0"),
		Principal:          dec("200.00"),
		AnnualInterestRate: dec("0.12"),
		MonthlyPayment:     dec("101.00"),
	}

	tests := []struct {
		made int
		want string
	}{
		{0, "200.00"},
		{1, "101.00"},
		{2, "1.01"},
		{3, "0"},
	}

	for _, tt := range tests {
		loan.PaymentsMade = tt.made
		got, err := OutstandingBalance(loan)
		if err != nil {
			t.Fatalf("payments made %d: unexpected error: %v", tt.made, err)
		}
		if !got.Equal(dec(tt.want)) {
			t.Errorf("payments made %d: expected %s, got %s", tt.made, tt.want, got)
		}
	}
}

func TestValidateSchedule_InstallmentTooSmall(t *testing.T) {
	t.Parallel()

	plan := &domain.InstallmentPlan{
		ObligationBase: obligationBase(date(2024, 1, 1), "0"),
		TotalAmount:    dec("0.02"),
		PeriodCount:    3,
		FirstDueDate:   date(2024, 1, 1),
	}

	if err := ValidateSchedule(plan); !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestOccurrences_SignedAmounts(t *testing.T) {
	t.Parallel()

	b := obligationBase(date(2024, 1, 1), "2500.00")
	b.Direction = domain.DirectionInflow
	salary := &domain.FixedItem{ObligationBase: b, DayOfMonth: 25}

	seq, err := Occurrences(salary, date(2024, 1, 1), date(2024, 2, 28))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := 0
	for occ := range seq {
		n++
		if !occ.Signed().Equal(dec("2500.00")) {
			t.Errorf("expected +2500.00, got %s", occ.Signed())
		}
	}
	if n != 2 {
		t.Errorf("expected 2 occurrences, got %d", n)
	}

	salary.Active = false
	seq, err = Occurrences(salary, date(2024, 1, 1), date(2024, 2, 28))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range seq {
		t.Fatal("inactive obligation must not yield occurrences")
	}
}
