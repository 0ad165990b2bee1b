package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/embed"
	"github.com/andresmejia3/facegate/internal/match"
	"github.com/andresmejia3/facegate/internal/pipeline"
	"github.com/andresmejia3/facegate/internal/utils"
)

// buildEngine loads the configured embedding engine. Load failure is fatal.
func buildEngine(cfg *config.Config) embed.Engine {
	var (
		engine embed.Engine
		err    error
	)

	switch cfg.EngineKind {
	case "hash":
		fmt.Fprintf(os.Stderr, "⚠️  Using the hash engine: scores are only meaningful for identical crops.\n")
		engine = embed.NewHashEngine(cfg.InputSize, cfg.EmbeddingDim)
	case "worker":
		engine, err = embed.NewWorkerEngine(cfg.WorkerScript, cfg.ModelPath, cfg.InputSize, cfg.EmbeddingDim)
	default:
		layout, _ := embed.ParseLayout(cfg.OnnxLayout)
		engine, err = embed.NewOnnxEngine(embed.OnnxConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.OnnxLibraryPath,
			InputName:   cfg.OnnxInputName,
			OutputName:  cfg.OnnxOutputName,
			InputSize:   cfg.InputSize,
			Dim:         cfg.EmbeddingDim,
			Layout:      layout,
		})
	}
	if err != nil {
		utils.Die(fmt.Sprintf("Failed to load embedding model %s", cfg.ModelPath), err, nil)
	}

	Logger.Info("Embedding engine ready", "engine", cfg.EngineKind, "input_size", engine.InputSize(), "dim", engine.Dim())
	return engine
}

// checkEmbeddingDim rejects a model whose vectors would not fit the store's vector column.
func checkEmbeddingDim(engineDim, storeDim int) error {
	if engineDim != storeDim {
		return fmt.Errorf("model produces %d-d embeddings, database column holds %d-d vectors", engineDim, storeDim)
	}
	return nil
}

// buildPipeline wires the engine and a fresh matcher into a pipeline.
func buildPipeline(cfg *config.Config, engine embed.Engine) *pipeline.Pipeline {
	pcfg := pipeline.DefaultConfig()
	pcfg.InputSize = cfg.InputSize
	pcfg.MinFaceWidth = cfg.MinFaceWidth
	pcfg.DecodeMode = cfg.Mode()

	p, err := pipeline.New(pcfg, engine, match.NewState(cfg.MatchThresholdPercent), Logger)
	if err != nil {
		utils.Die("Failed to build pipeline", err, nil)
	}
	return p
}
