package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"stratus/errors"
	"stratus/model"
)

// 两种实现共用的行为测试
func instanceStores(t *testing.T) map[string]IInstanceStore {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/instances.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlite := NewSQLiteInstanceStore(db)
	require.NoError(t, sqlite.Init(context.Background()))

	return map[string]IInstanceStore{
		"memory": NewMemoryInstanceStore(),
		"sqlite": sqlite,
	}
}

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	cmd := model.NewCommand(model.ActionCreate, nil, &model.Organization{
		ContainerDocument: model.NewContainerDocument(),
		DisplayName:       "acme",
	})

	instance, err := NewInstance(cmd)
	require.NoError(t, err)
	return instance
}

func TestInstanceRoundTrip(t *testing.T) {
	for name, store := range instanceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			instance := newTestInstance(t)

			require.NoError(t, store.Save(ctx, instance))

			got, err := store.Get(ctx, instance.InstanceID)
			require.NoError(t, err)
			require.Equal(t, instance.Descriptor, got.Descriptor)
			require.Equal(t, model.RuntimeStatusPending, got.Status)

			cmd, err := got.DecodeCommand()
			require.NoError(t, err)
			require.Equal(t, "organization.create", cmd.Descriptor())
		})
	}
}

func TestGetMissingInstance(t *testing.T) {
	for name, store := range instanceStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			require.Error(t, err)
			require.True(t, errors.IsNotFound(err))
		})
	}
}

// 步骤日志追加后按序号读回
func TestAppendAndResetSteps(t *testing.T) {
	for name, store := range instanceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			instance := newTestInstance(t)
			require.NoError(t, store.Save(ctx, instance))

			for seq, stepName := range []string{"get", "set", "fanout"} {
				require.NoError(t, store.AppendStep(ctx, instance.InstanceID, StepRecord{
					Seq:        seq,
					Name:       stepName,
					Output:     json.RawMessage(`{"ok":true}`),
					RecordedAt: time.Now().UTC(),
				}))
			}

			got, err := store.Get(ctx, instance.InstanceID)
			require.NoError(t, err)
			require.Len(t, got.Steps, 3)
			require.Equal(t, "set", got.Steps[1].Name)
			require.Equal(t, 1, got.Steps[1].Seq)
			require.False(t, got.Steps[0].Failed())

			require.NoError(t, store.ResetSteps(ctx, instance.InstanceID))
			got, err = store.Get(ctx, instance.InstanceID)
			require.NoError(t, err)
			require.Empty(t, got.Steps)
		})
	}
}

// Save 不覆盖独立维护的步骤日志
func TestSavePreservesSteps(t *testing.T) {
	for name, store := range instanceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			instance := newTestInstance(t)
			require.NoError(t, store.Save(ctx, instance))

			require.NoError(t, store.AppendStep(ctx, instance.InstanceID, StepRecord{
				Seq: 0, Name: "get", RecordedAt: time.Now().UTC(),
			}))

			instance.MarkRunning()
			require.NoError(t, store.Save(ctx, instance))

			got, err := store.Get(ctx, instance.InstanceID)
			require.NoError(t, err)
			require.Equal(t, model.RuntimeStatusRunning, got.Status)
			require.Len(t, got.Steps, 1)
		})
	}
}

func TestRequestCancel(t *testing.T) {
	for name, store := range instanceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			instance := newTestInstance(t)
			require.NoError(t, store.Save(ctx, instance))

			ok, err := store.RequestCancel(ctx, instance.InstanceID)
			require.NoError(t, err)
			require.True(t, ok)

			got, err := store.Get(ctx, instance.InstanceID)
			require.NoError(t, err)
			require.True(t, got.CancelRequested)

			// 终态实例不可取消
			cmd, err := got.DecodeCommand()
			require.NoError(t, err)
			result := model.NewCommandResult(cmd)
			result.Finalize(nil)
			require.NoError(t, got.Finalize(model.RuntimeStatusCompleted, result))
			require.NoError(t, store.Save(ctx, got))

			ok, err = store.RequestCancel(ctx, instance.InstanceID)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestListActiveSkipsFinal(t *testing.T) {
	for name, store := range instanceStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			running := newTestInstance(t)
			running.MarkRunning()
			require.NoError(t, store.Save(ctx, running))

			done := newTestInstance(t)
			doneCmd, err := done.DecodeCommand()
			require.NoError(t, err)
			result := model.NewCommandResult(doneCmd)
			result.Finalize(nil)
			require.NoError(t, done.Finalize(model.RuntimeStatusCompleted, result))
			require.NoError(t, store.Save(ctx, done))

			active, err := store.ListActive(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			require.Equal(t, running.InstanceID, active[0].InstanceID)
		})
	}
}

func TestFinalizeAndDecodeResult(t *testing.T) {
	instance := newTestInstance(t)

	empty, err := instance.DecodeResult()
	require.NoError(t, err)
	require.Nil(t, empty)

	cmd, err := instance.DecodeCommand()
	require.NoError(t, err)
	result := model.NewCommandResult(cmd)
	result.Finalize(nil)
	require.NoError(t, instance.Finalize(model.RuntimeStatusCompleted, result))

	decoded, err := instance.DecodeResult()
	require.NoError(t, err)
	require.True(t, decoded.Succeeded())
}
