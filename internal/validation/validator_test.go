package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
	"github.com/shrivenq/tradecore/pkg/num"
)

type request struct {
	ClientOrderID string     `validate:"required"`
	Qty           num.Qty    `validate:"qty"`
	LimitPrice    *num.Price `validate:"omitempty,price"`
}

func TestStructPassesValidRequest(t *testing.T) {
	v := New()
	px := num.FromFloat(10)
	require.NoError(t, v.Struct(request{ClientOrderID: "c1", Qty: num.FromFloat(5), LimitPrice: &px}))
	require.NoError(t, v.Struct(request{ClientOrderID: "c2", Qty: num.FromFloat(5)}))
}

func TestStructRejectsBadFields(t *testing.T) {
	v := New()

	err := v.Struct(request{ClientOrderID: "", Qty: num.FromFloat(5)})
	require.Error(t, err)
	assert.True(t, trerr.Is(err, trerr.ErrValidation))

	err = v.Struct(request{ClientOrderID: "c", Qty: num.Zero})
	require.Error(t, err)

	neg := num.FromFloat(-1)
	err = v.Struct(request{ClientOrderID: "c", Qty: num.FromFloat(5), LimitPrice: &neg})
	require.Error(t, err)
}
