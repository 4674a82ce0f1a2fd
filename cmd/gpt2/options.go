package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/cpu"
	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/ollama"
	"github.com/23skdu/longbow-gpt2/internal/tokenizer"
	"github.com/23skdu/longbow-gpt2/internal/weights"
)

const randomWeights = "random"

type globalOptions struct {
	logLevel  string
	logFormat string

	weights   string
	dtype     string
	vocab     string
	hparams   string
	precision string
	seed      int64

	vocabSize, seqLen, dim, heads, layers int
	parallelism                           int
}

func (o *globalOptions) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&o.logFormat, "log-format", "console", "Log format (console, json)")
	f.StringVarP(&o.weights, "weights", "w", "", "Weights: a directory, a .gguf file, ollama://model[:tag], grpc://host:port or \"random\"")
	f.StringVar(&o.dtype, "dtype", "f32", "Element type of raw weight files (f32, f16)")
	f.StringVar(&o.vocab, "vocab", "", "Vocabulary: encoder.json or .gguf (defaults to the weights when possible)")
	f.StringVar(&o.hparams, "hparams", "", "hparams.json (defaults to <weights>/hparams.json)")
	f.StringVar(&o.precision, "precision", "f32", "Projection precision (f32, q8)")
	f.Int64Var(&o.seed, "seed", 0, "Seed for random weights and top-k sampling")
	f.IntVar(&o.vocabSize, "vocab-size", 0, "Override vocabulary size")
	f.IntVar(&o.seqLen, "seq-len", 0, "Override context length")
	f.IntVar(&o.dim, "dim", 0, "Override embedding width")
	f.IntVar(&o.heads, "heads", 0, "Override attention heads")
	f.IntVar(&o.layers, "layers", 0, "Override block count")
	f.IntVar(&o.parallelism, "parallelism", 1, "Goroutines per matrix product")
}

func (o *globalOptions) setupLogging() {
	logger.Setup(o.logLevel, o.logFormat)
}

// loaded is an opened weight source with the configuration it implies.
type loaded struct {
	cfg   config.Config
	src   weights.Source
	label string
	gguf  *weights.GGUFSource
	info  *weights.ModelInfo
	close func() error
}

func (l *loaded) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

// open resolves --weights and builds the model configuration: defaults,
// then hparams.json, GGUF metadata or the Flight server's model info, then
// explicit flags.
func (o *globalOptions) open(ctx context.Context) (*loaded, error) {
	if o.weights == "" {
		return nil, errors.New("--weights is required")
	}
	cfg := config.Default()
	cfg.LogLevel, cfg.LogFormat = o.logLevel, o.logFormat
	cfg.Seed = o.seed
	cfg.Parallelism = o.parallelism
	p, err := config.ParsePrecision(o.precision)
	if err != nil {
		return nil, err
	}
	cfg.Precision = p

	l := &loaded{}
	switch {
	case o.weights == randomWeights:
		if o.vocab == "" {
			cfg.VocabSize = 256
		}
		l.label = randomWeights
	case strings.HasPrefix(o.weights, "grpc://"):
		fs, err := weights.DialFlight(o.weights)
		if err != nil {
			return nil, err
		}
		l.src, l.label, l.close = fs, "flight", fs.Close
		info, err := fs.Info(ctx)
		switch {
		case err == nil:
			info.Apply(&cfg)
			l.info = info
		case errors.Is(err, weights.ErrNotFound):
			logger.Log.Warn("weight server has no model info; using local shape", "addr", o.weights)
		default:
			_ = fs.Close()
			return nil, err
		}
	case strings.HasPrefix(o.weights, ollama.Scheme), strings.EqualFold(filepath.Ext(o.weights), ".gguf"):
		path := o.weights
		if strings.HasPrefix(path, ollama.Scheme) {
			if path, err = ollama.Resolve(path); err != nil {
				return nil, err
			}
		}
		gs, err := weights.OpenGGUF(path)
		if err != nil {
			return nil, err
		}
		gs.Apply(&cfg)
		l.src, l.label, l.gguf, l.close = gs, "gguf", gs, gs.Close
	default:
		ds, err := weights.NewDirSource(o.weights, weights.DType(o.dtype))
		if err != nil {
			return nil, err
		}
		l.src, l.label = ds, "dir"
	}

	if err := o.applyHParams(&cfg); err != nil {
		_ = l.Close()
		return nil, err
	}
	config.HParams{
		VocabSize: o.vocabSize,
		SeqLen:    o.seqLen,
		Dim:       o.dim,
		Heads:     o.heads,
		Layers:    o.layers,
	}.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		_ = l.Close()
		return nil, err
	}
	if l.label == randomWeights {
		l.src = weights.Random(cfg, o.seed)
	}
	if l.gguf != nil {
		if err := l.gguf.Validate(cfg); err != nil {
			_ = l.Close()
			return nil, err
		}
		logger.Log.Info("gguf opened",
			"tensors", len(l.gguf.File.Tensors),
			"parameters", l.gguf.File.ParameterCount())
	}
	cpu.SetParallelism(cfg.Parallelism)
	l.cfg = cfg
	logger.Log.Debug("weights opened", "source", l.label, "path", o.weights)
	return l, nil
}

func (o *globalOptions) applyHParams(cfg *config.Config) error {
	path := o.hparams
	if path == "" {
		candidate := filepath.Join(o.weights, "hparams.json")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			path = candidate
		}
	}
	if path == "" {
		return nil
	}
	h, err := config.LoadHParams(path)
	if err != nil {
		return fmt.Errorf("hparams: %w", err)
	}
	h.Apply(cfg)
	return nil
}

// tokenizer resolves --vocab, falling back to the GGUF vocabulary, the
// Flight server's tokens, an encoder.json beside the weights, or the bare
// byte vocabulary for random weights.
func (o *globalOptions) tokenizer(l *loaded) (*tokenizer.Tokenizer, error) {
	var (
		v   *tokenizer.Vocabulary
		err error
	)
	switch {
	case o.vocab != "":
		return tokenizer.New(o.vocab)
	case l.gguf != nil:
		v, err = tokenizer.FromGGUF(l.gguf.File)
	case l.info != nil && len(l.info.Tokens) > 0:
		v, err = tokenizer.FromTokens(l.info.Tokens)
	case l.label == "dir":
		v, err = tokenizer.LoadEncoderJSON(filepath.Join(o.weights, "encoder.json"))
	case l.label == randomWeights:
		v, err = tokenizer.ByteVocabulary()
	default:
		return nil, errors.New("--vocab is required for this weight source")
	}
	if err != nil {
		return nil, err
	}
	if missing := v.MissingBaseTokens(); len(missing) > 0 {
		logger.Log.Warn("vocabulary lacks single-byte tokens; some text cannot be encoded", "missing", len(missing))
	}
	return tokenizer.FromVocabulary(v), nil
}
