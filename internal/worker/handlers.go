package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/retry"
	"github.com/shaiso/Harvester/internal/source"
)

// submitOutcome — итог submit: token асинхронного provider'а
// или artifact синхронного.
type submitOutcome struct {
	token    string
	artifact *domain.Artifact
}

// submit выполняет NEW → SUBMITTED или NEW → DOWNLOADED.
func (r *run) submit(ctx context.Context) error {
	task := r.req.Task

	out, err := retry.Do(ctx, r.exec, r.budget, "submit", func(ctx context.Context) (submitOutcome, error) {
		res, err := r.src.Submit(ctx, r.req)
		if err != nil {
			return submitOutcome{}, err
		}

		// Синхронный provider: данные в ответе, пишем их в рамках той же попытки
		if res.Body != nil {
			defer res.Body.Close()
			a, err := r.sink.Write(ctx, r.req.Unit, task, r.req.Definition.SourceName(), res.Body)
			if err != nil {
				return submitOutcome{}, err
			}
			return submitOutcome{artifact: &a}, nil
		}

		if res.Token == "" {
			return submitOutcome{}, retry.Permanent(source.ErrNoToken)
		}
		return submitOutcome{token: res.Token}, nil
	})
	if err != nil {
		return err
	}

	from := task.State
	if out.artifact != nil {
		task.MarkDownloaded(*out.artifact)
		r.logger.Info("report downloaded", "path", out.artifact.Path, "size", out.artifact.Size)
		return r.transition(ctx, from)
	}

	if err := task.MarkSubmitted(out.token, r.now()); err != nil {
		return retry.Permanent(err)
	}
	r.logger.Info("report submitted", "token", out.token)
	return r.transition(ctx, from)
}

// poll выполняет один опрос: SUBMITTED/POLLING → POLLING/COMPLETED/FAILED.
//
// Budget и validity horizon проверяются перед каждым опросом.
func (r *run) poll(ctx context.Context) error {
	task := r.req.Task
	from := task.State

	if r.poller == nil {
		task.MarkCompleted("")
		return r.transition(ctx, from)
	}

	if r.budget.Expired() {
		return fmt.Errorf("%w: poll %s", retry.ErrBudgetExceeded, task.Key())
	}

	if task.IsExpired(r.now(), r.horizon) {
		task.MarkFailed(fmt.Sprintf("token %s older than validity horizon %s", task.Token, r.horizon))
		r.logger.Warn("task token expired", "submitted_at", task.SubmittedAt)
		return r.transition(ctx, from)
	}

	if r.polls >= r.maxPolls {
		return fmt.Errorf("%w: %s after %d polls", ErrPollLimit, task.Key(), r.polls)
	}

	// Первый опрос в этом run — сразу, дальше с паузой
	if r.polls > 0 {
		if r.budget != nil && r.pollInterval >= r.budget.Remaining() {
			return fmt.Errorf("%w: poll interval %s exceeds remaining budget", retry.ErrBudgetExceeded, r.pollInterval)
		}
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			return err
		}
	}

	status, err := retry.Do(ctx, r.exec, r.budget, "poll", func(ctx context.Context) (source.Status, error) {
		return r.poller.Poll(ctx, r.req)
	})
	if err != nil {
		return err
	}
	r.polls++

	switch status.State {
	case source.PollRunning:
		task.MarkPolling()
		if from == domain.TaskStatePolling {
			return nil
		}
		return r.transition(ctx, from)

	case source.PollCompleted:
		task.MarkCompleted(status.DownloadURL)
		r.logger.Info("report ready", "polls", r.polls)
		return r.transition(ctx, from)

	case source.PollNoData:
		if r.noData == NoDataEmpty {
			a, err := r.sink.Write(ctx, r.req.Unit, task, r.req.Definition.SourceName(), bytes.NewReader(nil))
			if err != nil {
				return fmt.Errorf("write empty artifact: %w", err)
			}
			task.MarkDownloaded(a)
			r.logger.Info("provider reported no data, empty artifact written", "status", status.Raw)
			return r.transition(ctx, from)
		}
		task.MarkFailed("no data: provider status " + status.Raw)
		r.logger.Warn("provider reported no data", "status", status.Raw)
		return r.transition(ctx, from)

	default:
		task.MarkFailed("provider status " + status.Raw)
		r.logger.Warn("report generation failed", "status", status.Raw)
		return r.transition(ctx, from)
	}
}

// download выполняет COMPLETED → DOWNLOADED.
//
// Download и запись в sink — одна попытка: оборванный поток
// повторяется целиком.
func (r *run) download(ctx context.Context) error {
	task := r.req.Task

	a, err := retry.Do(ctx, r.exec, r.budget, "download", func(ctx context.Context) (domain.Artifact, error) {
		body, err := r.src.Download(ctx, r.req)
		if err != nil {
			return domain.Artifact{}, err
		}
		defer body.Close()
		return r.sink.Write(ctx, r.req.Unit, task, r.req.Definition.SourceName(), body)
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, retry.ErrBudgetExceeded) {
			return err
		}
		r.logger.Warn("download failed, task stays completed", "error", err)
		return fmt.Errorf("%w: %s: %w", ErrDownloadFailed, task.Key(), err)
	}

	from := task.State
	task.MarkDownloaded(a)
	r.logger.Info("report downloaded", "path", a.Path, "size", a.Size)
	return r.transition(ctx, from)
}
