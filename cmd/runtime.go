package cmd

import (
	"errors"
	"fmt"

	"FaceVerify/camera"
	"FaceVerify/config"
	"FaceVerify/engine"
	"FaceVerify/history"
	"FaceVerify/logger"
	"FaceVerify/monitor"
	"FaceVerify/notify"
	"FaceVerify/preprocess"
	"FaceVerify/verify"

	"go.uber.org/zap"
)

// appRuntime is everything a running verifier owns. Startup failures here
// abort the command before any event loop starts.
type appRuntime struct {
	model    *engine.Siamese
	camera   *camera.Source
	verifier *verify.Verifier
	history  *history.Store
	notifier *notify.Notifier
}

func loadModel(cfg config.Model) (*engine.Siamese, error) {
	return engine.Load(cfg.Manifest, engine.Options{
		OnnxRuntimeLib: cfg.OnnxRuntimeLib,
		IntraOpThreads: cfg.IntraOpThreads,
		UseGPU:         cfg.UseGPU,
		Timeout:        cfg.Timeout,
		Warmup:         cfg.Warmup,
	})
}

func newRuntime(cfg *config.Config) (*appRuntime, error) {
	rt := &appRuntime{}

	model, err := loadModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	rt.model = model

	src, err := camera.Open(cfg.Camera)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.camera = src

	mc := model.CheckConfig()
	pre := preprocess.Preprocessor{Width: mc.InputWidth, Height: mc.InputHeight}
	opts := []verify.Option{
		verify.WithPreprocessor(pre.Preprocess),
		verify.WithObserver(monitor.Observe),
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		rt.history = store
		opts = append(opts, verify.WithObserver(store.Observe))
	}
	if cfg.Notify.WebhookURL != "" {
		rt.notifier = notify.New(cfg.Notify)
		opts = append(opts, verify.WithObserver(rt.notifier.Observe))
	}

	rt.verifier = verify.New(src, model, cfg.Verification, opts...)
	return rt, nil
}

func (rt *appRuntime) Close() {
	var errs []error
	if rt.notifier != nil {
		rt.notifier.Wait()
	}
	if rt.history != nil {
		errs = append(errs, rt.history.Close())
	}
	if rt.camera != nil {
		errs = append(errs, rt.camera.Close())
	}
	if rt.model != nil {
		errs = append(errs, rt.model.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Log().Warn("shutdown incomplete", zap.Error(err))
	}
}
