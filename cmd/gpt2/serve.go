package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/weights"
)

func newServeWeightsCmd(g *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-weights",
		Short: "Serve a weight source over Arrow Flight",
		Long: `Serve every parameter of --weights to remote generators, together with
the model shape and vocabulary. Clients pass --weights grpc://HOST:PORT to
load from this server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, l, err := startWeightServer(cmd.Context(), g, addr)
			if err != nil {
				return err
			}
			defer l.Close()
			<-cmd.Context().Done()
			logger.Log.Info("shutting down weight server")
			srv.Shutdown()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", weights.DefaultFlightAddr, "Listen address")
	return cmd
}

// startWeightServer opens --weights and serves it on addr. The caller owns
// both the server and the opened source.
func startWeightServer(ctx context.Context, g *globalOptions, addr string) (*weights.FlightServer, *loaded, error) {
	l, err := g.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	info := &weights.ModelInfo{HParams: config.HParamsOf(l.cfg), Eps: l.cfg.Eps}
	if tok, err := g.tokenizer(l); err == nil {
		info.Tokens = tok.Vocabulary().Tokens()
	} else {
		logger.Log.Warn("serving weights without a vocabulary", "err", err)
	}

	srv := weights.NewFlightServer(l.src)
	srv.Info = info
	if err := srv.Start(addr); err != nil {
		_ = l.Close()
		return nil, nil, err
	}
	logger.Log.Info("serving weights",
		"addr", srv.Addr().String(),
		"source", l.label,
		"params", len(weights.Schema(l.cfg)),
		"tokens", len(info.Tokens))
	return srv, l, nil
}
