package service

import (
	"context"
	"log/slog"
	"time"
)

const defaultReconcileBatch = 500

// UserScanner 按 ID 升序分批扫描用户
type UserScanner interface {
	ListIDsAfter(ctx context.Context, lastID uint64, limit int) ([]uint64, error)
}

// MembershipReconciler 用户社区索引对账，以成员表为准
type MembershipReconciler struct {
	users     UserScanner
	syncer    *CommunityService
	batchSize int
	interval  time.Duration
	lock      Locker
	logger    *slog.Logger
}

func NewMembershipReconciler(users UserScanner, syncer *CommunityService, interval time.Duration, logger *slog.Logger) *MembershipReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &MembershipReconciler{
		users:     users,
		syncer:    syncer,
		batchSize: defaultReconcileBatch,
		interval:  interval,
		logger:    ResolveLogger(logger),
	}
}

// WithLock 多实例部署时只让一个实例对账
func (r *MembershipReconciler) WithLock(lock Locker) *MembershipReconciler {
	r.lock = lock
	return r
}

// Run 对账定时任务启动器
func (r *MembershipReconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick 抢到锁才对账一轮；返回是否执行
func (r *MembershipReconciler) Tick(ctx context.Context) bool {
	return runExclusive(ctx, r.lock, "membership_reconcile", r.interval, r.logger, func() {
		r.ReconcileOnce(ctx)
	})
}

// ReconcileOnce 扫一遍全部用户，返回修正的用户数；单个用户失败不影响其他用户
func (r *MembershipReconciler) ReconcileOnce(ctx context.Context) int {
	var lastID uint64
	fixed := 0
	for {
		if ctx.Err() != nil {
			return fixed
		}
		ids, err := r.users.ListIDsAfter(ctx, lastID, r.batchSize)
		if err != nil {
			r.logger.Error("reconcile list failed",
				"event", "membership_reconcile_list_failed",
				"module", "service/reconciler",
				"last_id", lastID,
				"error", err.Error(),
			)
			return fixed
		}
		for _, id := range ids {
			changed, err := r.syncer.SyncMembershipIndex(ctx, id)
			if err != nil {
				r.logger.Warn("reconcile user failed",
					"event", "membership_reconcile_user_failed",
					"module", "service/reconciler",
					"user_id", id,
					"error", err.Error(),
				)
				continue
			}
			if changed {
				fixed++
			}
		}
		if len(ids) < r.batchSize {
			break
		}
		lastID = ids[len(ids)-1]
	}
	if fixed > 0 {
		r.logger.Info("membership reconcile finished",
			"event", "membership_reconcile_done",
			"module", "service/reconciler",
			"fixed", fixed,
		)
	}
	return fixed
}
