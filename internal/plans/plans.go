// Package plans хранит соответствие между идентификаторами цен провайдера
// и внутренними тарифами. Таблица строится один раз при старте из конфига
// и дальше не изменяется.
package plans

import (
	"fmt"

	"github.com/magabrotheeeer/llmboost-billing/internal/config"
	"github.com/magabrotheeeer/llmboost-billing/internal/models"
)

var (
	rank = map[models.PlanCode]int{
		models.PlanFree:    0,
		models.PlanStarter: 1,
		models.PlanPro:     2,
		models.PlanAgency:  3,
	}
	credits = map[models.PlanCode]int{
		models.PlanFree:    1,
		models.PlanStarter: 10,
		models.PlanPro:     30,
		models.PlanAgency:  100,
	}
)

// Table неизменяемая двунаправленная таблица цена <-> тариф.
type Table struct {
	byPrice map[string]models.PlanCode
	byPlan  map[models.PlanCode]string
}

// New строит таблицу из пар тариф -> идентификатор цены.
// Бесплатный тариф цены не имеет, повторяющиеся цены запрещены.
func New(prices map[models.PlanCode]string) (*Table, error) {
	t := &Table{
		byPrice: make(map[string]models.PlanCode, len(prices)),
		byPlan:  make(map[models.PlanCode]string, len(prices)),
	}
	for plan, price := range prices {
		if !plan.Paid() {
			return nil, fmt.Errorf("plans: %q is not a paid plan", plan)
		}
		if price == "" {
			return nil, fmt.Errorf("plans: empty price for %q", plan)
		}
		if other, ok := t.byPrice[price]; ok {
			return nil, fmt.Errorf("plans: price %q used by %q and %q", price, other, plan)
		}
		t.byPrice[price] = plan
		t.byPlan[plan] = price
	}
	return t, nil
}

// FromConfig строит таблицу из секции stripe.prices.
func FromConfig(p config.Prices) (*Table, error) {
	return New(map[models.PlanCode]string{
		models.PlanStarter: p.Starter,
		models.PlanPro:     p.Pro,
		models.PlanAgency:  p.Agency,
	})
}

// PlanCodeFromPriceID возвращает тариф по идентификатору цены.
// ok == false означает, что цена не наша и событие нужно игнорировать.
func (t *Table) PlanCodeFromPriceID(priceID string) (models.PlanCode, bool) {
	plan, ok := t.byPrice[priceID]
	return plan, ok
}

// PriceIDFromPlanCode возвращает идентификатор цены для тарифа.
func (t *Table) PriceIDFromPlanCode(plan models.PlanCode) (string, bool) {
	price, ok := t.byPlan[plan]
	return price, ok
}

// PriceIDs возвращает все известные идентификаторы цен.
func (t *Table) PriceIDs() []string {
	ids := make([]string, 0, len(t.byPrice))
	for id := range t.byPrice {
		ids = append(ids, id)
	}
	return ids
}

// Rank порядок тарифа: чем выше, тем дороже. Неизвестный тариф имеет ранг -1.
func Rank(plan models.PlanCode) int {
	r, ok := rank[plan]
	if !ok {
		return -1
	}
	return r
}

// CreditAllowance месячный лимит кредитов на обход для тарифа.
func CreditAllowance(plan models.PlanCode) int {
	return credits[plan]
}
