package estests

import (
	"testing"

	"github.com/codewandler/evsrc/core/es"
	"github.com/codewandler/evsrc/core/es/estests/domain"
)

func startEnv(t *testing.T, opts ...es.EnvOption) *es.TestingEnv {
	t.Helper()
	return es.StartTestEnv(
		t,
		es.WithEvents(domain.TestAggEvents()...),
		es.WithEvents(domain.OrderEvents()...),
		es.WithAggregateTypes(domain.NewTestAggType(5), domain.NewOrderType()),
		es.WithDomainTypes(domain.NewLineItemType()),
		es.WithEnvOpts(opts...),
	)
}

func newCounter(t *testing.T, te *es.TestingEnv, id string) *domain.TestAgg {
	t.Helper()
	agg, err := te.Repository().New(domain.TestAggType, id, "")
	if err != nil {
		t.Fatal(err)
	}
	return agg.(*domain.TestAgg)
}

func newOrder(t *testing.T, te *es.TestingEnv, id string) *domain.Order {
	t.Helper()
	agg, err := te.Repository().New(domain.OrderType, id, "")
	if err != nil {
		t.Fatal(err)
	}
	return agg.(*domain.Order)
}
