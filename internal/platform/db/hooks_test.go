package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAfterCommitWithoutTransactionRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	require.True(t, ran)
}

func TestHooksRunInOrderAndOnce(t *testing.T) {
	ctx, hooks := WithHooks(context.Background())
	nestedCtx, nested := WithHooks(ctx)
	require.Same(t, hooks, nested)

	var order []int
	AfterCommit(ctx, func(context.Context) { order = append(order, 1) })
	AfterCommit(nestedCtx, func(runCtx context.Context) {
		order = append(order, 2)
		AfterCommit(runCtx, func(context.Context) { order = append(order, 3) })
	})
	require.Empty(t, order)

	hooks.Run(context.Background())
	require.Equal(t, []int{1, 2, 3}, order)

	hooks.Run(context.Background())
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	require.False(t, IsUniqueViolation(context.Canceled, ""))
}

func TestNestedHooksReleaseOrDrop(t *testing.T) {
	ctx, hooks := WithHooks(context.Background())
	var order []string

	kept, keptHooks := NestHooks(ctx)
	require.NotSame(t, hooks, keptHooks)
	AfterCommit(kept, func(context.Context) { order = append(order, "released") })
	keptHooks.Release()

	dropped, _ := NestHooks(ctx)
	AfterCommit(dropped, func(context.Context) { order = append(order, "rolled back") })

	AfterCommit(ctx, func(context.Context) { order = append(order, "outer") })
	hooks.Run(context.Background())
	require.Equal(t, []string{"released", "outer"}, order)
}

func TestNestHooksWithoutTransaction(t *testing.T) {
	ctx, hooks := NestHooks(context.Background())
	require.Nil(t, hooks)
	ran := false
	AfterCommit(ctx, func(context.Context) { ran = true })
	require.True(t, ran)
	hooks.Release()
}
