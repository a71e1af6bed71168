package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompactAttributes(t *testing.T) {
	t.Run("trims and drops blanks", func(t *testing.T) {
		got := CompactAttributes(map[string]string{
			" type ":      " order.created ",
			"orderId":     "ord-1",
			"orderNumber": "  ",
			" ":           "ignored",
		})
		assert.Equal(t, map[string]string{
			"type":    "order.created",
			"orderId": "ord-1",
		}, got)
	})

	t.Run("nil when nothing survives", func(t *testing.T) {
		assert.Nil(t, CompactAttributes(nil))
		assert.Nil(t, CompactAttributes(map[string]string{"sku": ""}))
	})
}
