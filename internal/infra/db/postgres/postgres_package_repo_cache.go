package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
	"shop-fulfillment/internal/infra/metrics"
	red "shop-fulfillment/internal/infra/redis"
)

var _ repository.PackageRepository = (*packageRepoCacheDecorator)(nil)

const packagesAllKey = "packages:all"

// packageRepoCacheDecorator serves catalog reads from Redis.
type packageRepoCacheDecorator struct {
	inner repository.PackageRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewPackageRepoCacheDecorator(inner repository.PackageRepository, cache red.RedisClient, ttl time.Duration) repository.PackageRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &packageRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
	}
}

func packageKey(id string) string { return fmt.Sprintf("package:%s", id) }

func (d *packageRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Package, error) {
	// row locks bypass the cache
	if isTx(tx) {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := packageKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var p model.Package
		if json.Unmarshal([]byte(val), &p) == nil {
			metrics.IncCacheRequest("package", "hit")
			return &p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		metrics.IncCacheRequest("package", "error")
	}

	metrics.IncCacheRequest("package", "miss")
	p, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if p != nil {
		if b, err := json.Marshal(p); err == nil {
			_ = d.cache.Set(ctx, key, b, d.ttl)
		}
	}
	return p, nil
}

// Writes invalidate both the entry and the full list.
func (d *packageRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, p *model.Package) error {
	_ = d.cache.Del(ctx, packageKey(p.ID))
	_ = d.cache.Del(ctx, packagesAllKey)
	return d.inner.Save(ctx, tx, p)
}

func (d *packageRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id string) error {
	_ = d.cache.Del(ctx, packageKey(id))
	_ = d.cache.Del(ctx, packagesAllKey)
	return d.inner.Delete(ctx, tx, id)
}

func (d *packageRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Package, error) {
	val, err := d.cache.Get(ctx, packagesAllKey)
	if err == nil {
		var pkgs []*model.Package
		if json.Unmarshal([]byte(val), &pkgs) == nil {
			metrics.IncCacheRequest("package_list", "hit")
			return pkgs, nil
		}
	}

	metrics.IncCacheRequest("package_list", "miss")
	pkgs, err := d.inner.ListAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(pkgs) > 0 {
		if b, err := json.Marshal(pkgs); err == nil {
			_ = d.cache.Set(ctx, packagesAllKey, b, d.ttl)
		}
	}
	return pkgs, nil
}
