package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/Harvester/internal/checkpoint"
	"github.com/shaiso/Harvester/internal/domain"
)

// unitState — tasks одного unit'а в памяти во время обработки.
//
// Каждый task продвигается ровно одной горутиной на своей копии;
// в unitState копия попадает через commit. Checkpoint пишется
// после каждого commit'а.
type unitState struct {
	unit  *domain.UnitOfWork
	store checkpoint.Store

	// mu защищает tasks и version.
	mu      sync.Mutex
	tasks   []domain.ReportTask
	index   map[string]int
	version int

	// writeMu упорядочивает записи checkpoint'а этого unit'а.
	writeMu sync.Mutex
	saved   int
}

func newUnitState(unit *domain.UnitOfWork, tasks []domain.ReportTask, store checkpoint.Store) *unitState {
	s := &unitState{
		unit:  unit,
		store: store,
		tasks: tasks,
		index: make(map[string]int, len(tasks)),
	}
	for i := range tasks {
		s.index[tasks[i].Key()] = i
	}
	return s
}

// Task возвращает копию task'а по индексу.
func (s *unitState) Task(i int) domain.ReportTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[i]
}

// Len возвращает число tasks.
func (s *unitState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Snapshot возвращает копию всех tasks.
func (s *unitState) Snapshot() []domain.ReportTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *unitState) snapshotLocked() []domain.ReportTask {
	out := make([]domain.ReportTask, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// commit применяет переход task'а и сохраняет checkpoint.
// Реализует worker.CommitFunc.
func (s *unitState) commit(ctx context.Context, task domain.ReportTask) error {
	s.mu.Lock()
	i, ok := s.index[task.Key()]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s not planned for unit %s", task.Key(), s.unit.GUID)
	}
	s.tasks[i] = task
	s.version++
	v := s.version
	s.mu.Unlock()

	return s.flush(ctx, v)
}

// flush пишет checkpoint не старее версии v.
// Если более свежий snapshot уже записан, запись пропускается.
func (s *unitState) flush(ctx context.Context, v int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.saved >= v {
		return nil
	}

	s.mu.Lock()
	snapshot := s.snapshotLocked()
	latest := s.version
	s.mu.Unlock()

	if err := s.store.Save(ctx, s.unit.GUID, snapshot); err != nil {
		return err
	}
	s.saved = latest
	return nil
}

// Save пишет текущее состояние без перехода.
func (s *unitState) Save(ctx context.Context) error {
	s.mu.Lock()
	s.version++
	v := s.version
	s.mu.Unlock()
	return s.flush(ctx, v)
}

// Stats возвращает число tasks по состояниям.
func (s *unitState) Stats() map[domain.TaskState]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[domain.TaskState]int)
	for i := range s.tasks {
		stats[s.tasks[i].State]++
	}
	return stats
}
