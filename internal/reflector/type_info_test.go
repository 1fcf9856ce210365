package reflector

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type orderPaid struct{ Amount int }

type OrderShippedEvent struct{}

func TestTypeInfoOf(t *testing.T) {
	ti := TypeInfoOf(orderPaid{})
	require.Equal(t, "github.com/codewandler/evsrc/internal/reflector.orderPaid", ti.Name)
	require.Equal(t, "order_paid", ti.Snake)
}

func TestTypeInfoOf_Pointer(t *testing.T) {
	ti := TypeInfoOf(&OrderShippedEvent{})
	require.NotEqual(t, reflect.Pointer, ti.Type.Kind())
	require.Equal(t, "order_shipped_event", ti.Snake)
	require.Equal(t, ti, TypeInfoFor[OrderShippedEvent]())
}

func TestTypeInfoOf_Nil(t *testing.T) {
	require.Equal(t, TypeInfo{}, TypeInfoOf(nil))
}

func TestSnake(t *testing.T) {
	cases := map[string]string{
		"Order":            "order",
		"OrderPaidEvent":   "order_paid_event",
		"HTTPRequest":      "http_request",
		"LineItemV2Added":  "line_item_v2_added",
		"already_snake":    "already_snake",
		"AggregateDeleted": "aggregate_deleted",
	}
	for in, want := range cases {
		require.Equal(t, want, Snake(in), in)
	}
}
