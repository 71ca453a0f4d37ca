package app

import (
	"context"
	"errors"
	"os"

	"spread-sync/internal/fetcher"
	"spread-sync/internal/service"
)

// Replay 使用录制的 fixture 数据执行一次整合，不访问数据库和外部服务。
// 告警仍按配置发送，可用于验证告警通道。
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	dir := opts.Dir
	if dir == "" {
		dir = a.Config.Sources.Fixtures
	}
	if dir == "" {
		return errors.New("未指定 fixture 目录")
	}
	if _, err := os.Stat(dir); err != nil {
		return err
	}

	exporter, err := a.newExporter(ctx, opts.OutDir, opts.Formats, 0)
	if err != nil {
		return err
	}

	fixture := fetcher.NewFixture(dir)
	svc, err := a.newService(service.Dependencies{
		Real:      fixture,
		Synthetic: fixture,
		Exporter:  exporter,
		Notifier:  a.newNotifier(),
	})
	if err != nil {
		return err
	}

	res, err := svc.Integrate(ctx, a.request(opts.RequestOptions))
	if err != nil {
		return err
	}
	return printResult(os.Stdout, res)
}
