package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/gguf"
	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/weights"
)

type convertOptions struct {
	out          string
	ggufType     string
	outDType     string
	compress     bool
	maxPartBytes int
}

func newConvertCmd(g *globalOptions) *cobra.Command {
	o := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Re-encode weights as a GGUF file or a parameter directory",
		Example: `  gpt2 convert -w models/124M --out gpt2-124m.gguf --gguf-type f16
  gpt2 convert -w gpt2.gguf --out models/124M --compress --max-part-bytes 67108864`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.out, "out", "o", "", "Output .gguf file or directory")
	f.StringVar(&o.ggufType, "gguf-type", "f32", "Projection tensor type for GGUF output (f32, f16)")
	f.StringVar(&o.outDType, "out-dtype", "f32", "Element type for directory output (f32, f16)")
	f.BoolVar(&o.compress, "compress", false, "zstd-compress directory output")
	f.IntVar(&o.maxPartBytes, "max-part-bytes", 0, "Split directory parameters larger than this")
	return cmd
}

func runConvert(cmd *cobra.Command, g *globalOptions, o *convertOptions) error {
	if o.out == "" {
		return errors.New("--out is required")
	}
	ctx := cmd.Context()
	l, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	start := time.Now()
	if strings.EqualFold(filepath.Ext(o.out), ".gguf") {
		var typ gguf.GGMLType
		switch o.ggufType {
		case "f32":
			typ = gguf.GGMLTypeF32
		case "f16":
			typ = gguf.GGMLTypeF16
		default:
			return fmt.Errorf("unknown gguf type %q", o.ggufType)
		}
		var tokens []string
		if tok, err := g.tokenizer(l); err == nil {
			tokens = tok.Vocabulary().Tokens()
		} else {
			logger.Log.Warn("writing GGUF without a vocabulary", "err", err)
		}
		if err := weights.WriteGGUF(ctx, l.src, l.cfg, tokens, o.out, typ); err != nil {
			return err
		}
	} else {
		opts := weights.WriteOptions{
			DType:        weights.DType(o.outDType),
			Compress:     o.compress,
			MaxPartBytes: o.maxPartBytes,
		}
		if err := weights.WriteDir(ctx, l.src, weights.Schema(l.cfg), o.out, opts); err != nil {
			return err
		}
		if err := config.HParamsOf(l.cfg).Save(filepath.Join(o.out, "hparams.json")); err != nil {
			return err
		}
		if tok, err := g.tokenizer(l); err == nil {
			if err := tok.Vocabulary().WriteEncoderJSON(filepath.Join(o.out, "encoder.json")); err != nil {
				return err
			}
		}
	}
	logger.Log.Info("converted weights",
		"source", l.label,
		"out", o.out,
		"elapsed", time.Since(start).String())
	return nil
}
