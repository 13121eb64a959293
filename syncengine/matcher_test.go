package syncengine

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/billing_backend/models"
)

func TestMatchPaymentAccountExactBeatsWildcard(t *testing.T) {
	rules := []models.RoutingRule{
		{Currency: "*", Method: "*", MerchantAccount: "*", TargetAccount: "fallback"},
		{Currency: "USD", Method: "card", MerchantAccount: "*", TargetAccount: "us-card-clearing"},
	}

	rule, err := MatchPaymentAccount(PaymentRoute{Currency: "USD", Method: "card", MerchantAccount: "acct-1"}, rules)
	if err != nil {
		t.Fatal(err)
	}
	if rule.TargetAccount != "us-card-clearing" {
		t.Fatalf("expected us-card-clearing, got %s", rule.TargetAccount)
	}
}

func TestMatchPaymentAccountTieKeepsFirstListed(t *testing.T) {
	rules := []models.RoutingRule{
		{Currency: "USD", Method: "*", MerchantAccount: "*", TargetAccount: "first"},
		{Currency: "*", Method: "card", MerchantAccount: "*", TargetAccount: "second"},
	}

	// Both rules score 4 for this route; order decides.
	rule, err := MatchPaymentAccount(PaymentRoute{Currency: "USD", Method: "card", MerchantAccount: "acct-1"}, rules)
	if err != nil {
		t.Fatal(err)
	}
	if rule.TargetAccount != "first" {
		t.Fatalf("expected first-listed rule to win the tie, got %s", rule.TargetAccount)
	}
}

func TestMatchPaymentAccountMismatchDisqualifies(t *testing.T) {
	rules := []models.RoutingRule{
		// Scores high on currency+method but mismatches merchant account.
		{Currency: "USD", Method: "card", MerchantAccount: "acct-other", TargetAccount: "wrong"},
		{Currency: "*", Method: "*", MerchantAccount: "*", TargetAccount: "fallback"},
	}

	rule, err := MatchPaymentAccount(PaymentRoute{Currency: "USD", Method: "card", MerchantAccount: "acct-1"}, rules)
	if err != nil {
		t.Fatal(err)
	}
	if rule.TargetAccount != "fallback" {
		t.Fatalf("disqualified rule must not win, got %s", rule.TargetAccount)
	}
}

func TestMatchPaymentAccountNoMatchIsConfigError(t *testing.T) {
	rules := []models.RoutingRule{
		{Currency: "EUR", Method: "*", MerchantAccount: "*", TargetAccount: "eu-clearing"},
	}

	_, err := MatchPaymentAccount(PaymentRoute{Currency: "USD", Method: "card"}, rules)
	if err == nil {
		t.Fatal("expected an error when no rule qualifies")
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected *SyncError, got %T", err)
	}
}

func TestMatchPaymentAccountEmptyRules(t *testing.T) {
	if _, err := MatchPaymentAccount(PaymentRoute{Currency: "USD"}, nil); err == nil {
		t.Fatal("expected an error with no rules configured")
	}
}

func TestMatchPaymentAccountCaseInsensitiveDimensions(t *testing.T) {
	rules := []models.RoutingRule{
		{Currency: "usd", Method: "CARD", MerchantAccount: "*", TargetAccount: "clearing"},
	}
	rule, err := MatchPaymentAccount(PaymentRoute{Currency: "USD", Method: "card"}, rules)
	if err != nil {
		t.Fatal(err)
	}
	if rule.TargetAccount != "clearing" {
		t.Fatalf("expected case-insensitive match, got %s", rule.TargetAccount)
	}
}
