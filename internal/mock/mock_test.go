package mock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_Update_FetchesOnlyNewCalls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "dialog", "showOpenDialog")
	require.NoError(t, err)

	main.invoke(mk.Key, "first")
	main.invoke(mk.Key, "second")
	require.NoError(t, mk.Update(ctx))
	assert.Equal(t, 0, main.lastOffset)

	main.invoke(mk.Key, "third")
	require.NoError(t, mk.Update(ctx))

	assert.Equal(t, 2, main.lastOffset)
	assert.Equal(t, []Call{{"first"}, {"second"}, {"third"}}, mk.Calls())
	assert.Equal(t, Call{"third"}, mk.LastCall())
	assert.Len(t, mk.Results(), 3)
}

func TestMock_Update_RemoteClearedResyncs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "app", "getPath")
	require.NoError(t, err)
	main.invoke(mk.Key, "home")
	main.invoke(mk.Key, "temp")
	require.NoError(t, mk.Update(ctx))

	// The main process history was cleared without this mock knowing
	main.clearBehindBack(mk.Key)
	main.invoke(mk.Key, "logs")
	require.NoError(t, mk.Update(ctx))

	assert.Equal(t, []Call{{"logs"}}, mk.Calls())
}

func TestMock_Update_RemoteClearedAndGrownPastOffset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "app", "getPath")
	require.NoError(t, err)
	main.invoke(mk.Key, "home")
	main.invoke(mk.Key, "temp")
	require.NoError(t, mk.Update(ctx))

	// Cleared remotely, then called more often than we had seen before
	main.clearBehindBack(mk.Key)
	main.invoke(mk.Key, "logs")
	main.invoke(mk.Key, "music")
	main.invoke(mk.Key, "videos")
	require.NoError(t, mk.Update(ctx))

	assert.Equal(t, []Call{{"logs"}, {"music"}, {"videos"}}, mk.Calls())
	assert.Len(t, mk.Results(), 3)

	// And later updates are incremental again
	main.invoke(mk.Key, "desktop")
	require.NoError(t, mk.Update(ctx))
	assert.Equal(t, 3, main.lastOffset)
	assert.Equal(t, Call{"desktop"}, mk.LastCall())
}

func TestMock_LastCallEmpty(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager()
	mk, err := m.Mock(context.Background(), "app", "quit")
	require.NoError(t, err)

	assert.Nil(t, mk.LastCall())
	assert.Empty(t, mk.Calls())
}

func TestMock_Implementations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "dialog", "showOpenDialog")
	require.NoError(t, err)
	spy := main.spies[mk.Key]

	tests := []struct {
		name string
		set  func() error
		want string
		once bool
	}{
		{"implementation", func() error { return mk.MockImplementation(ctx, "() => 'x'") }, "() => 'x'", false},
		{"return value", func() error { return mk.MockReturnValue(ctx, map[string]any{"canceled": true}) }, `() => ({"canceled":true})`, false},
		{"resolved value", func() error { return mk.MockResolvedValue(ctx, []string{"/tmp/a"}) }, `() => Promise.resolve(["/tmp/a"])`, false},
		{"rejected value", func() error { return mk.MockRejectedValue(ctx, "denied") }, `() => Promise.reject(new Error("denied"))`, false},
		{"implementation once", func() error { return mk.MockImplementationOnce(ctx, "() => 1") }, "() => 1", true},
		{"return value once", func() error { return mk.MockReturnValueOnce(ctx, 2) }, "() => (2)", true},
		{"resolved value once", func() error { return mk.MockResolvedValueOnce(ctx, nil) }, "() => Promise.resolve(null)", true},
		{"rejected value once", func() error { return mk.MockRejectedValueOnce(ctx, "once") }, `() => Promise.reject(new Error("once"))`, true},
	}

	// Subtests share the mock, so they run in order.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.set())
			if tt.once {
				assert.Equal(t, tt.want, spy.once[len(spy.once)-1])
			} else {
				assert.Equal(t, tt.want, spy.impl)
			}
		})
	}
}

func TestMock_OnceTakesPrecedence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)

	require.NoError(t, mk.MockReturnValue(ctx, "always"))
	require.NoError(t, mk.MockReturnValueOnce(ctx, "first"))
	main.invoke(mk.Key)
	main.invoke(mk.Key)
	require.NoError(t, mk.Update(ctx))

	results := mk.Results()
	require.Len(t, results, 2)
	assert.Equal(t, `() => ("first")`, results[0].Value)
	assert.Equal(t, `() => ("always")`, results[1].Value)
}

func TestMock_ReturnValueEncodingError(t *testing.T) {
	t.Parallel()

	m, main := newTestManager()
	mk, err := m.Mock(context.Background(), "app", "getName")
	require.NoError(t, err)

	err = mk.MockReturnValue(context.Background(), make(chan int))

	assert.ErrorContains(t, err, "encoding value")
	assert.Zero(t, main.countOps("implementation"))
}

func TestMock_Name(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager()
	mk, err := m.Mock(context.Background(), "app", "getName")
	require.NoError(t, err)

	assert.Equal(t, "electron.app.getName", mk.GetMockName())
	assert.Same(t, mk, mk.MockName("app name"))
	assert.Equal(t, "app name", mk.GetMockName())
}

func TestMock_Clear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)
	require.NoError(t, mk.MockImplementation(ctx, "() => 'demo'"))
	main.invoke(mk.Key)
	require.NoError(t, mk.Update(ctx))

	require.NoError(t, mk.MockClear(ctx))

	assert.Empty(t, mk.Calls())
	assert.Empty(t, mk.Results())
	assert.Equal(t, "() => 'demo'", main.spies[mk.Key].impl)

	// Calls after the clear are read from the start of the new history
	main.invoke(mk.Key, "a")
	main.invoke(mk.Key, "b")
	require.NoError(t, mk.Update(ctx))
	assert.Equal(t, 0, main.lastOffset)
	assert.Equal(t, []Call{{"a"}, {"b"}}, mk.Calls())
}

func TestMock_Restore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)

	require.NoError(t, mk.MockRestore(ctx))

	assert.False(t, m.Store().Has(mk.Key))
	assert.NotContains(t, main.interceptor, mk.Key)
}

func TestMock_Restore_SpyLeftInPlace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)
	main.stuck[mk.Key] = true

	err = mk.MockRestore(ctx)

	assert.ErrorIs(t, err, ErrNotRestored)
	assert.Contains(t, err.Error(), "electron.app.getName")
	assert.False(t, m.Store().Has(mk.Key))
	assert.Contains(t, main.interceptor, mk.Key)
}

func TestMock_RemoteFailureKeepsLocalState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	mk, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)
	main.invoke(mk.Key, "x")
	require.NoError(t, mk.Update(ctx))
	main.failOps["restore"] = true

	assert.Error(t, mk.MockRestore(ctx))

	assert.True(t, m.Store().Has(mk.Key))
	assert.Len(t, mk.Calls(), 1)
}

func TestMock_MarshalJSON(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager()
	mk, err := m.Mock(context.Background(), "dialog", "showErrorBox")
	require.NoError(t, err)

	b, err := json.Marshal(mk)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "wdio-electron-mock",
		"key": "electron.dialog.showErrorBox",
		"apiName": "dialog",
		"methodName": "showErrorBox",
		"name": "electron.dialog.showErrorBox",
		"calls": [],
		"results": []
	}`, string(b))
}
