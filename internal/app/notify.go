package app

import (
	"context"
	"errors"

	"equity-forecast/internal/alerting"
	"equity-forecast/internal/storage"
)

// NotifyLatest 将最近一次持久化的运行摘要重新发送到已配置的告警通道。
func (a *App) NotifyLatest(ctx context.Context) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("alerting 未启用")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn 未配置，无法读取历史运行")
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, 1)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return errors.New("no runs found")
	}

	return notifier.Notify(ctx, runNotification(runs[0], a.Config.Alerting.TopN))
}

func runNotification(run storage.Run, topN int) alerting.Notification {
	return alerting.Notification{
		RunAt:          run.RunAt,
		Window:         run.Window,
		Symbols:        run.Symbols,
		Records:        run.Records,
		DecodeFailures: run.DecodeFailures,
		Momentum:       entryMovers(run.Top(storage.RankingMomentum, topN)),
		ProbableAlpha:  entryMovers(run.Top(storage.RankingProbableAlpha, topN)),
		AdditionalMsg:  "(resent from run history)\n",
	}
}

func entryMovers(entries []storage.RankingEntry) []alerting.Mover {
	out := make([]alerting.Mover, 0, len(entries))
	for _, e := range entries {
		out = append(out, alerting.Mover{
			Symbol:      e.Symbol,
			Alpha:       e.Alpha,
			Probability: e.Probability.Shift(2),
			Change:      e.Change,
		})
	}
	return out
}
