package service

import (
	"context"
	"log/slog"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg/errs"

	"golang.org/x/sync/errgroup"
)

const (
	defaultEnrichConcurrency = 8
	defaultEnrichBatch       = 100
)

// Enricher 把成员的 userId 解析成 username/email
type Enricher struct {
	users       IdentityStore
	cache       IdentityCache
	concurrency int
	batchSize   int
	logger      *slog.Logger
}

func NewEnricher(users IdentityStore, cache IdentityCache, concurrency int, logger *slog.Logger) *Enricher {
	if concurrency <= 0 {
		concurrency = defaultEnrichConcurrency
	}
	return &Enricher{
		users:       users,
		cache:       cache,
		concurrency: concurrency,
		batchSize:   defaultEnrichBatch,
		logger:      ResolveLogger(logger),
	}
}

// WithBatchSize 每次批量查询的 ID 个数
func (e *Enricher) WithBatchSize(n int) *Enricher {
	if n > 0 {
		e.batchSize = n
	}
	return e
}

// Resolve 对去重后的 ID 分批并发查询；用户不存在时给占位身份，存储故障则整体失败
func (e *Enricher) Resolve(ctx context.Context, ids []uint64) (map[uint64]model.Identity, error) {
	distinct := dedupe(ids)
	out := make(map[uint64]model.Identity, len(distinct))
	if len(distinct) == 0 {
		return out, nil
	}

	missing := distinct
	if e.cache != nil {
		cached, err := e.cache.GetMany(ctx, distinct)
		if err != nil {
			// 缓存不可用直接回源
			e.logger.Warn("identity cache read failed",
				"event", "identity_cache_get_failed",
				"module", "service/enricher",
				"error", err.Error(),
			)
		} else {
			missing = nil
			for _, id := range distinct {
				if ident, ok := cached[id]; ok {
					out[id] = ident
				} else {
					missing = append(missing, id)
				}
			}
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	// 分批 FindByIDs；每个 goroutine 只写自己那一批的下标，不需要加锁
	chunks := chunk(missing, e.batchSize)
	results := make([][]model.User, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, ids := range chunks {
		i, ids := i, ids
		g.Go(func() error {
			users, err := e.users.FindByIDs(gctx, ids)
			if err != nil {
				return err
			}
			results[i] = users
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errs.KindOf(err) == errs.KindInternal {
			return nil, errs.Transient("resolve member identities", err)
		}
		return nil, err
	}

	fresh := make([]model.Identity, 0, len(missing))
	for _, users := range results {
		for _, u := range users {
			ident := model.Identity{UserID: u.ID, Username: u.Username, Email: u.Email}
			out[u.ID] = ident
			fresh = append(fresh, ident)
		}
	}
	// 查不到的用户给占位身份，不写缓存
	for _, id := range missing {
		if _, ok := out[id]; !ok {
			out[id] = model.UnknownIdentity(id)
		}
	}
	if e.cache != nil && len(fresh) > 0 {
		if err := e.cache.SetMany(ctx, fresh); err != nil {
			e.logger.Warn("identity cache write failed",
				"event", "identity_cache_set_failed",
				"module", "service/enricher",
				"error", err.Error(),
			)
		}
	}
	return out, nil
}

func chunk(ids []uint64, size int) [][]uint64 {
	out := make([][]uint64, 0, (len(ids)+size-1)/size)
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	return append(out, ids)
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
