package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/engine"
	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/model"
	"github.com/23skdu/longbow-gpt2/internal/monitoring"
)

type generateOptions struct {
	prompt      string
	steps       int
	topK        int
	temperature float32
	metricsAddr string
	tracePath   string
}

func newGenerateCmd(g *globalOptions) *cobra.Command {
	o := &generateOptions{}
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Continue a prompt token by token",
		Example: `  gpt2 generate -w models/124M --prompt "Alan Turing theorized that"
  gpt2 generate -w gpt2.gguf --top-k 40 --temperature 0.8 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.prompt, "prompt", "p", "", "Prompt text (read from stdin when empty)")
	f.IntVarP(&o.steps, "steps", "n", def.Steps, "Tokens to generate")
	f.IntVar(&o.topK, "top-k", 0, "Sample among the k most likely tokens (0 = greedy)")
	f.Float32Var(&o.temperature, "temperature", def.Temperature, "Softmax temperature for top-k sampling")
	f.StringVar(&o.metricsAddr, "metrics", "", "Serve /health, /status and /metrics on this address")
	f.StringVar(&o.tracePath, "trace", "", "Write a per-step JSON trace to this file")
	return cmd
}

func runGenerate(cmd *cobra.Command, g *globalOptions, o *generateOptions) error {
	ctx := cmd.Context()
	l, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	cfg := l.cfg
	cfg.Steps, cfg.TopK, cfg.Temperature = o.steps, o.topK, o.temperature
	if err := cfg.Validate(); err != nil {
		return err
	}

	tok, err := g.tokenizer(l)
	if err != nil {
		return err
	}

	var hm *monitoring.HealthMonitor
	if o.metricsAddr != "" {
		hm = monitoring.NewHealthMonitor()
		if err := hm.Start(o.metricsAddr); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hm.Stop(sctx)
		}()
	}

	m, err := model.Load(ctx, l.src, cfg)
	if err != nil {
		if hm != nil {
			hm.AddAlert("critical", "model", err.Error())
		}
		return err
	}
	if hm != nil {
		hm.SetModel(cfg, l.label)
	}

	sampler, err := engine.NewSampler(cfg)
	if err != nil {
		return err
	}
	e, err := engine.New(m, tok, sampler)
	if err != nil {
		return err
	}
	if hm != nil {
		e.Observer = hm
	}
	if o.tracePath != "" {
		e.Trace = engine.NewTrace()
	}

	pio := engine.NewConsoleIO(o.prompt)
	pio.Out = cmd.OutOrStdout()
	pio.In = cmd.InOrStdin()
	_, genErr := e.Generate(ctx, pio, cfg.Steps)
	if e.Trace != nil {
		if err := e.Trace.Save(o.tracePath); err != nil {
			logger.Log.Error("failed to save trace", "path", o.tracePath, "err", err)
		} else {
			logger.Log.Info("trace saved", "path", o.tracePath)
		}
	}
	if genErr != nil {
		return fmt.Errorf("generate: %w", genErr)
	}
	return nil
}
