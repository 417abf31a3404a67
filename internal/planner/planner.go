// Package planner решает, какие report tasks нужны unit'у в этом run.
//
// Plan — чистая функция: на вход checkpoint и конфигурация provider'а,
// на выход итоговый список tasks. Сеть и storage не трогаются;
// вызывающий сохраняет результат как новый checkpoint до любого submit.
//
// Правила для task'ов из checkpoint:
//   - DOWNLOADED — сохраняется как есть, повторно не отправляется
//   - FAILED — сохраняется (unit уйдёт в ERROR), пока не истёк validity
//     horizon или не запрошен ручной retry; тогда заменяется новым
//   - SUBMITTED/POLLING/COMPLETED — сохраняется в пределах horizon,
//     иначе token протух и task заменяется новым
//   - NEW — сохраняется
//   - task definition'а, которого больше нет в конфигурации, выбрасывается,
//     если он не DOWNLOADED
//
// Dimension-only definition, уже скачанный сегодня для этой entity,
// не планируется вовсе, а его незавершённые tasks из checkpoint
// выбрасываются: повторный download задвоил бы строки downstream.
//
// Sub-entity, уже покрытая task'ом из checkpoint (в том числе batch'ем
// старого состава), заново не запрашивается.
package planner

import (
	"sort"
	"time"

	"github.com/shaiso/Harvester/internal/domain"
)

// Input — всё, что нужно для планирования одного unit'а.
type Input struct {
	Unit        *domain.UnitOfWork
	Definitions []domain.ReportDefinition
	Checkpoint  []domain.ReportTask

	// SubEntities — sub-entities entity (для PerSubEntity definitions).
	SubEntities []string

	// DimensionsDone — ID dimension-only definitions, скачанных сегодня.
	DimensionsDone map[string]bool

	// Now — текущее время. Horizon — validity horizon token'ов.
	Now     time.Time
	Horizon time.Duration

	// RetryFailed — ручной retry: FAILED заменяются новыми сразу.
	RetryFailed bool

	// DefaultBatchSize — размер batch, если у definition он не задан.
	DefaultBatchSize int
}

// Result — итог планирования.
type Result struct {
	Tasks []domain.ReportTask

	// Статистика для логов.
	Kept       int
	Replaced   int
	Dropped    int
	Created    int
	Dimensions int
}

// Plan строит список tasks unit'а.
func Plan(in Input) Result {
	var res Result

	defs := make(map[string]domain.ReportDefinition, len(in.Definitions))
	order := make(map[string]int, len(in.Definitions))
	for i, d := range in.Definitions {
		defs[d.ID] = d
		order[d.ID] = i
	}

	// 1. Разбираем checkpoint
	kept := make(map[string]domain.ReportTask)
	for _, t := range in.Checkpoint {
		def, configured := defs[t.DefinitionID]

		switch {
		case t.State == domain.TaskStateDownloaded:
			// Artifact уже есть — оставляем даже для удалённого definition
		case !configured:
			res.Dropped++
			continue
		case def.DimensionOnly && in.DimensionsDone[def.ID]:
			// Скачан сегодня другим unit'ом: свой token не дослеживаем
			res.Dropped++
			continue
		case t.State == domain.TaskStateFailed:
			if in.RetryFailed || expired(t, in.Now, in.Horizon) {
				res.Replaced++
				continue
			}
		case t.State.InFlight():
			if t.IsExpired(in.Now, in.Horizon) {
				res.Replaced++
				continue
			}
		}

		key := t.Key()
		if prev, ok := kept[key]; ok && rank(prev.State) >= rank(t.State) {
			continue
		}
		kept[key] = t
	}
	res.Kept = len(kept)

	// 2. Добавляем недостающие tasks
	for _, def := range in.Definitions {
		if def.DimensionOnly && in.DimensionsDone[def.ID] && !hasDefinition(kept, def.ID) {
			res.Dimensions++
			continue
		}
		subs := in.SubEntities
		if def.PerSubEntity {
			subs = uncovered(kept, def.ID, subs)
		}
		for _, t := range expand(in.Unit, def, subs, in.DefaultBatchSize) {
			key := t.Key()
			if _, ok := kept[key]; ok {
				continue
			}
			t.UpdatedAt = in.Now.UTC()
			kept[key] = t
			res.Created++
		}
	}

	// 3. Детерминированный порядок: по definitions, затем по ключу
	res.Tasks = make([]domain.ReportTask, 0, len(kept))
	for _, t := range kept {
		res.Tasks = append(res.Tasks, t)
	}
	sort.SliceStable(res.Tasks, func(i, j int) bool {
		oi, oki := order[res.Tasks[i].DefinitionID]
		oj, okj := order[res.Tasks[j].DefinitionID]
		if !oki {
			oi = len(order)
		}
		if !okj {
			oj = len(order)
		}
		if oi != oj {
			return oi < oj
		}
		return res.Tasks[i].Key() < res.Tasks[j].Key()
	})

	return res
}

// expand разворачивает definition в tasks: один, по sub-entity или по batch.
func expand(unit *domain.UnitOfWork, def domain.ReportDefinition, subEntities []string, defaultBatch int) []domain.ReportTask {
	if !def.PerSubEntity {
		return []domain.ReportTask{domain.NewReportTask(unit.GUID, def.ID, "", nil)}
	}

	batch := def.BatchSize
	if batch <= 0 {
		batch = defaultBatch
	}

	if batch <= 0 {
		out := make([]domain.ReportTask, 0, len(subEntities))
		for _, id := range subEntities {
			out = append(out, domain.NewReportTask(unit.GUID, def.ID, id, nil))
		}
		return out
	}

	ids := append([]string(nil), subEntities...)
	sort.Strings(ids)

	var out []domain.ReportTask
	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, domain.NewReportTask(unit.GUID, def.ID, "", ids[start:end:end]))
	}
	return out
}

// expired — возраст FAILED task'а считается от submit, а если его не было — от последнего перехода.
func expired(t domain.ReportTask, now time.Time, horizon time.Duration) bool {
	if horizon <= 0 {
		return false
	}
	at := t.UpdatedAt
	if t.SubmittedAt != nil {
		at = *t.SubmittedAt
	}
	return now.Sub(at) > horizon
}

// rank упорядочивает состояния по «продвинутости» для дедупликации.
func rank(s domain.TaskState) int {
	switch s {
	case domain.TaskStateDownloaded:
		return 5
	case domain.TaskStateCompleted:
		return 4
	case domain.TaskStatePolling:
		return 3
	case domain.TaskStateSubmitted:
		return 2
	case domain.TaskStateNew:
		return 1
	default:
		return 0
	}
}

// uncovered возвращает sub-entities, которых нет ни в одном оставленном
// task'е definition'а. Batch'и из checkpoint не пересобираются: состав
// sub-entities между runs меняется.
func uncovered(tasks map[string]domain.ReportTask, defID string, subEntities []string) []string {
	covered := make(map[string]bool)
	for _, t := range tasks {
		if t.DefinitionID != defID {
			continue
		}
		if t.SubEntityID != "" {
			covered[t.SubEntityID] = true
		}
		for _, id := range t.BatchIDs {
			covered[id] = true
		}
	}
	if len(covered) == 0 {
		return subEntities
	}

	out := make([]string, 0, len(subEntities))
	for _, id := range subEntities {
		if !covered[id] {
			out = append(out, id)
		}
	}
	return out
}

func hasDefinition(tasks map[string]domain.ReportTask, defID string) bool {
	for _, t := range tasks {
		if t.DefinitionID == defID {
			return true
		}
	}
	return false
}
