package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceFor(t *testing.T) {
	b := BusinessConfig{
		Packages: map[int]int64{1: 15000, 5: 70000, 10: 130000, 25: 300000, 50: 550000},
	}

	price, ok := b.PriceFor(5)
	assert.True(t, ok)
	assert.Equal(t, int64(70000), price)

	// Bulk pricing is cheaper than stacking small packages.
	small, _ := b.PriceFor(1)
	bulk, _ := b.PriceFor(10)
	assert.Less(t, bulk, 10*small)

	_, ok = b.PriceFor(3)
	assert.False(t, ok)
	_, ok = b.PriceFor(0)
	assert.False(t, ok)
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 3, cfg.Business.DeliveryRetries)
	assert.Equal(t, 10, cfg.Business.LowStockThreshold)
	assert.NotEmpty(t, cfg.Kafka.Brokers)
}
