// identity_cache.go — LRU-кэш пользователей с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	identityCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_identity_cache_hits_total",
		Help: "Общее количество попаданий в кэш пользователей.",
	})
	identityCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_identity_cache_misses_total",
		Help: "Общее количество промахов кэша пользователей.",
	})
)

// IdentityCache — LRU-кэш пользователей по subject.
// TTL ограничивает время, в течение которого смена роли на другом экземпляре не видна.
type IdentityCache struct {
	cache *expirable.LRU[string, model.Identity]
}

// NewIdentityCache создаёт кэш с максимальным размером и TTL.
func NewIdentityCache(maxSize int, ttl time.Duration) *IdentityCache {
	return &IdentityCache{cache: expirable.NewLRU[string, model.Identity](maxSize, nil, ttl)}
}

// Get возвращает копию пользователя из кэша.
func (c *IdentityCache) Get(id string) (*model.Identity, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		identityCacheHitsTotal.Inc()
		return &val, true
	}
	identityCacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись.
func (c *IdentityCache) Set(id string, identity *model.Identity) {
	c.cache.Add(id, *identity)
}

// Delete удаляет запись.
func (c *IdentityCache) Delete(id string) {
	c.cache.Remove(id)
}

// Len возвращает количество записей.
func (c *IdentityCache) Len() int {
	return c.cache.Len()
}
