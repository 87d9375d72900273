package mock

import (
	"context"
	"sync/atomic"

	"github.com/tomyan/wdio-electron/internal/log"
)

// Syncer refreshes mocks after commands that can make the app call them.
type Syncer struct {
	manager  *Manager
	commands CommandList
	logger   *log.Logger

	executions atomic.Int64
	syncs      atomic.Int64
}

// NewSyncer returns a syncer using InputCommands.
func NewSyncer(m *Manager, logger *log.Logger) *Syncer {
	return NewSyncerWithCommands(m, InputCommands, logger)
}

// NewSyncerWithCommands returns a syncer with a custom command list.
func NewSyncerWithCommands(m *Manager, commands CommandList, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Syncer{manager: m, commands: commands, logger: logger}
}

// ShouldSync reports whether a command warrants a refresh.
func (s *Syncer) ShouldSync(name string, args []any) bool {
	return s.commands.Contains(name) && s.manager.store.Len() > 0 && !IsInternal(args)
}

// AfterCommand refreshes every mock when ShouldSync says so.
func (s *Syncer) AfterCommand(ctx context.Context, name string, args []any) error {
	if !s.ShouldSync(name, args) {
		return nil
	}
	s.syncs.Add(1)
	s.logger.Debugf("Syncer:AfterCommand", "command:%s mocks:%d", name, s.manager.store.Len())
	return s.manager.UpdateAll(ctx)
}

// Observe records a user-visible script execution. It is installed as the
// executor's observer.
func (s *Syncer) Observe(source string) {
	n := s.executions.Add(1)
	s.logger.Tracef("Syncer:Observe", "execution:%d script:%.40q", n, source)
}

// Executions returns the number of user-visible executions observed.
func (s *Syncer) Executions() int64 {
	return s.executions.Load()
}

// Syncs returns the number of refreshes performed.
func (s *Syncer) Syncs() int64 {
	return s.syncs.Load()
}

// IsInternal reports whether a command's arguments carry the internal
// flag: a trailing {"internal": true} object.
func IsInternal(args []any) bool {
	if len(args) == 0 {
		return false
	}
	opts, ok := args[len(args)-1].(map[string]any)
	if !ok {
		return false
	}
	internal, _ := opts["internal"].(bool)
	return internal
}
