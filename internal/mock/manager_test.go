package mock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyan/wdio-electron/internal/script"
)

func TestManager_Install(t *testing.T) {
	t.Parallel()

	m, main := newTestManager()

	require.NoError(t, m.Install(context.Background()))
	require.NoError(t, m.Install(context.Background()))

	assert.Equal(t, 2, main.installs)
}

func TestManager_Mock_Creates(t *testing.T) {
	t.Parallel()

	m, main := newTestManager()

	mk, err := m.Mock(context.Background(), "dialog", "showOpenDialog")

	require.NoError(t, err)
	assert.Equal(t, "electron.dialog.showOpenDialog", mk.Key)
	assert.Equal(t, "dialog", mk.APIName)
	assert.Equal(t, "showOpenDialog", mk.MethodName)
	assert.True(t, main.interceptor[mk.Key])
	assert.Equal(t, 1, m.Store().Len())
}

func TestManager_Mock_TwiceReturnsSameMockAndClearsCalls(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()

	// Given a mock with recorded calls
	first, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)
	main.invoke(first.Key)
	require.NoError(t, first.Update(ctx))
	require.Len(t, first.Calls(), 1)

	// When mocking the same function again
	second, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)

	// Then the same spy is returned with its history cleared
	assert.Same(t, first, second)
	assert.Empty(t, second.Calls())
	assert.Equal(t, 1, m.Store().Len())
	assert.Len(t, main.spies, 1)
	assert.Empty(t, main.spies[first.Key].calls)
}

func TestManager_Mock_Validation(t *testing.T) {
	t.Parallel()

	m, main := newTestManager()

	_, err := m.Mock(context.Background(), "", "getName")
	assert.Error(t, err)
	assert.Empty(t, main.ops)
}

func TestManager_Mock_UnknownFunction(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager()

	_, err := m.Mock(context.Background(), "app", "fly")

	var execErr *script.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "electron.app.fly is not a function", execErr.Message)
	assert.Equal(t, 0, m.Store().Len())
}

func TestManager_MockAll(t *testing.T) {
	t.Parallel()

	m, main := newTestManager()

	mocks, err := m.MockAll(context.Background(), "dialog")

	require.NoError(t, err)
	require.Len(t, mocks, 8)
	for _, method := range main.apis["dialog"] {
		mk, ok := mocks[method]
		require.True(t, ok, method)
		assert.True(t, m.IsMockFunction(mk))
		assert.Equal(t, Key("dialog", method), mk.Key)
	}
	assert.Equal(t, 8, m.Store().Len())
}

func TestManager_Methods(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager()

	methods, err := m.Methods(context.Background(), "app")

	require.NoError(t, err)
	assert.Equal(t, []string{"getName", "getPath", "getVersion", "quit"}, methods)
	assert.Equal(t, 0, m.Store().Len())
}

func TestManager_MockAll_UnknownAPI(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager()

	_, err := m.MockAll(context.Background(), "teleport")

	assert.ErrorContains(t, err, "electron.teleport is not available")
}

func TestManager_ClearAll_FiltersByAPI(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()

	getName, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)
	open, err := m.Mock(ctx, "dialog", "showOpenDialog")
	require.NoError(t, err)
	main.invoke(getName.Key)
	main.invoke(open.Key, map[string]any{"title": "pick"})
	require.NoError(t, m.UpdateAll(ctx))

	require.NoError(t, m.ClearAll(ctx, "app"))

	assert.Empty(t, getName.Calls())
	assert.Empty(t, main.spies[getName.Key].calls)
	// The dialog mock keeps its history and its interception
	assert.Len(t, open.Calls(), 1)
	assert.Len(t, main.spies[open.Key].calls, 1)
	assert.True(t, main.interceptor[open.Key])
	assert.True(t, main.interceptor[getName.Key])
}

func TestManager_ClearAll_EmptyRegistry(t *testing.T) {
	t.Parallel()

	m, main := newTestManager()

	assert.NoError(t, m.ClearAll(context.Background(), ""))
	assert.NoError(t, m.ClearAll(context.Background(), "app"))
	assert.Empty(t, main.ops)
}

func TestManager_ResetAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()

	mk, err := m.Mock(ctx, "app", "getVersion")
	require.NoError(t, err)
	require.NoError(t, mk.MockReturnValue(ctx, "1.0.0"))
	main.invoke(mk.Key)
	require.NoError(t, mk.Update(ctx))

	require.NoError(t, m.ResetAll(ctx, ""))

	assert.Empty(t, mk.Calls())
	assert.Empty(t, main.spies[mk.Key].impl)
	assert.True(t, main.interceptor[mk.Key])
	assert.True(t, m.Store().Has(mk.Key))
}

func TestManager_RestoreAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()

	getName, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)
	_, err = m.Mock(ctx, "dialog", "showOpenDialog")
	require.NoError(t, err)
	main.invoke(getName.Key)
	require.NoError(t, getName.Update(ctx))

	require.NoError(t, m.RestoreAll(ctx, ""))

	// Every original is back and no history survives
	assert.Empty(t, main.interceptor)
	assert.Equal(t, 0, m.Store().Len())
	assert.Empty(t, getName.Calls())
	_, err = m.Get(getName.Key)
	assert.ErrorIs(t, err, ErrNoMock)

	// A later mock starts afresh
	again, err := m.Mock(ctx, "app", "getName")
	require.NoError(t, err)
	assert.NotSame(t, getName, again)
	assert.Empty(t, again.Calls())
}

func TestManager_RestoreAll_FiltersByAPI(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()

	_, err := m.MockAll(ctx, "app")
	require.NoError(t, err)
	open, err := m.Mock(ctx, "dialog", "showOpenDialog")
	require.NoError(t, err)

	require.NoError(t, m.RestoreAll(ctx, "app"))

	assert.Equal(t, []string{open.Key}, m.Store().Keys())
	assert.Equal(t, map[string]bool{open.Key: true}, main.interceptor)
}

func TestManager_BulkOperationsVisitEveryMock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, main := newTestManager()
	_, err := m.MockAll(ctx, "app")
	require.NoError(t, err)
	main.failOps["clear"] = true

	err = m.ClearAll(ctx, "app")

	assert.ErrorContains(t, err, "clear failed")
	assert.Equal(t, 4, main.countOps("clear"))
}

func TestManager_Get(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager()
	mk, err := m.Mock(context.Background(), "shell", "openExternal")
	require.NoError(t, err)

	got, err := m.Get("electron.shell.openExternal")
	require.NoError(t, err)
	assert.Same(t, mk, got)

	_, err = m.Get("electron.shell.beep")
	assert.EqualError(t, err, "no mock registered for electron.shell.beep")
}

func TestManager_IsMockFunction(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager()
	mk, err := m.Mock(context.Background(), "app", "quit")
	require.NoError(t, err)
	serialized, err := json.Marshal(mk)
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, json.Unmarshal(serialized, &asMap))

	assert.True(t, m.IsMockFunction(mk))
	assert.True(t, m.IsMockFunction(json.RawMessage(serialized)))
	assert.True(t, m.IsMockFunction(asMap))

	assert.False(t, m.IsMockFunction((*Mock)(nil)))
	assert.False(t, m.IsMockFunction("electron.app.quit"))
	assert.False(t, m.IsMockFunction(func() {}))
	assert.False(t, m.IsMockFunction(map[string]any{"type": "spy", "key": "electron.app.quit"}))
	assert.False(t, m.IsMockFunction(map[string]any{"type": TypeName, "key": "electron.app.getName"}))
}
