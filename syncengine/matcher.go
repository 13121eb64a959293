package syncengine

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/billing_backend/models"
)

// PaymentRoute is the dimension tuple a payment is matched on.
type PaymentRoute struct {
	Currency        string
	Method          string
	MerchantAccount string
}

const disqualified = -1

// scoreDimension: exact match 2, wildcard ("*" or unset) 1, mismatch
// disqualifies the whole rule.
func scoreDimension(ruleValue string, routeValue string) int {
	if ruleValue == "" || ruleValue == "*" {
		return 1
	}
	if strings.EqualFold(ruleValue, routeValue) {
		return 2
	}
	return disqualified
}

func scoreRule(rule models.RoutingRule, route PaymentRoute) int {
	total := 0
	for _, s := range []int{
		scoreDimension(rule.Currency, route.Currency),
		scoreDimension(rule.Method, route.Method),
		scoreDimension(rule.MerchantAccount, route.MerchantAccount),
	} {
		if s == disqualified {
			return disqualified
		}
		total += s
	}
	return total
}

// MatchPaymentAccount picks the routing rule for a payment. Highest score
// wins; on a tie the rule listed first wins. No qualifying rule is a
// configuration error, never a silent default.
func MatchPaymentAccount(route PaymentRoute, rules []models.RoutingRule) (models.RoutingRule, error) {
	bestScore := disqualified
	bestIdx := -1
	for i, rule := range rules {
		score := scoreRule(rule, route)
		if score == disqualified {
			continue
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return models.RoutingRule{}, &SyncError{
			Op: "matchPaymentAccount",
			Err: fmt.Errorf("no routing rule matches payment (currency=%s method=%s merchant_account=%s)",
				route.Currency, route.Method, route.MerchantAccount),
		}
	}
	return rules[bestIdx], nil
}
