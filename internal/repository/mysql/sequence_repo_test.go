package mysql_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg/errs"
	"SignalCAD/internal/repository/mysql"
	"SignalCAD/internal/repository/mysql/mysqltest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateSeedsLazily(t *testing.T) {
	seq := mysql.NewSequenceRepository(mysqltest.NewDB(t), 16200)
	ctx := context.Background()

	first, err := seq.Allocate(ctx, model.SeqUserID)
	require.NoError(t, err)
	assert.Equal(t, uint64(16201), first)

	second, err := seq.Allocate(ctx, model.SeqUserID)
	require.NoError(t, err)
	assert.Equal(t, uint64(16202), second)

	// 不同命名空间互不影响
	other, err := seq.Allocate(ctx, model.SeqCommunityID)
	require.NoError(t, err)
	assert.Equal(t, uint64(16201), other)
}

func TestAllocateConcurrentUnique(t *testing.T) {
	seq := mysql.NewSequenceRepository(mysqltest.NewDB(t), 0)
	ctx := context.Background()

	const n = 50
	var (
		mu   sync.Mutex
		got  []uint64
		wg   sync.WaitGroup
		errc = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := seq.Allocate(ctx, "x")
			if err != nil {
				errc <- err
				return
			}
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, uint64(i+1), v)
	}
}

func TestAllocateCanceledContextIsTransient(t *testing.T) {
	seq := mysql.NewSequenceRepository(mysqltest.NewDB(t), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := seq.Allocate(ctx, "x")
	assert.ErrorIs(t, err, errs.ErrTransient)
}
