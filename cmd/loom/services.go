package main

import (
	"time"

	"github.com/iosans/loom/internal/flow/artifact"
	"github.com/iosans/loom/internal/flow/config"
	"github.com/iosans/loom/internal/flow/engine"
	"github.com/iosans/loom/internal/flow/exec"
	"github.com/iosans/loom/internal/llm"
	"github.com/iosans/loom/internal/llm/providers/anthropic"
	"github.com/iosans/loom/internal/llm/providers/openaicompat"
	"github.com/iosans/loom/internal/media"
	"github.com/iosans/loom/internal/pyrun"
)

// buildServices assembles the executor dependencies from config. The
// returned cleanup closes the artifact store and must run after the last
// node finishes.
func buildServices(cfg *config.Config) (exec.Services, func(), error) {
	artifacts, err := artifact.Open(cfg.Paths.Artifacts)
	if err != nil {
		return exec.Services{}, nil, err
	}

	client := llm.NewClient()
	switch cfg.LLM.Provider {
	case "openai":
		client.Register(openaicompat.NewAdapter(openaicompat.Config{
			Provider: "openai",
			APIKey:   cfg.APIKey(),
			BaseURL:  cfg.LLM.Endpoint,
		}))
	default:
		client.Register(anthropic.NewAdapter(anthropic.Config{
			APIKey:  cfg.APIKey(),
			BaseURL: cfg.LLM.Endpoint,
		}))
	}
	client.SetDefaultProvider(cfg.LLM.Provider)
	if cfg.LLM.Model != "" {
		client.SetDefaultModel(cfg.LLM.Model)
	}
	if n := *cfg.LLM.MaxRetries; n > 0 {
		client.Use(llm.WithRetry(n, time.Second))
	}

	svcs := exec.Services{
		Artifacts: artifacts,
		LLM:       client,
		Python:    pyrun.New(cfg.Python.Binary, time.Duration(cfg.Python.TimeoutMS)*time.Millisecond),
	}
	if cfg.Media.SpeechURL != "" {
		svcs.Speech = &media.HTTPSynthesizer{URL: cfg.Media.SpeechURL}
	} else {
		svcs.Speech = media.BuiltinSynthesizer{}
	}
	if cfg.Media.ImageURL != "" {
		svcs.Images = &media.HTTPGenerator{URL: cfg.Media.ImageURL}
	} else {
		svcs.Images = media.BuiltinGenerator{}
	}

	return svcs, func() { _ = artifacts.Close() }, nil
}

func buildEngine(cfg *config.Config) (*engine.Engine, func(), error) {
	svcs, cleanup, err := buildServices(cfg)
	if err != nil {
		return nil, nil, err
	}
	eng := engine.New(svcs,
		engine.WithMaxParallel(cfg.Engine.MaxParallel),
		engine.WithRunsDir(cfg.Paths.Runs),
	)
	return eng, cleanup, nil
}
