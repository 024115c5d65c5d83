package main

import (
	"fmt"

	"courtside/internal/config"
	"courtside/internal/generation"
	"courtside/internal/injuries"
	"courtside/internal/live"
	"courtside/internal/logging"
	"courtside/internal/persist"
	"courtside/internal/picks"
	"courtside/internal/prompt"
	"courtside/internal/server"
	"courtside/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming chat API",
	Long: `Starts the HTTP server. POST /api/chat streams an answer as server-sent
events; GET /healthz reports store health.

With --watch, edits to the config file hot-swap the context section limits
and the log level without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", true, "Reload assembler limits and log level when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.NewLocalStore(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	models, err := generation.NewGeminiStreamer(ctx, cfg.Model.APIKey)
	if err != nil {
		return err
	}

	srv, closeFn, err := buildServer(cfg, st, models)
	if err != nil {
		return err
	}
	defer closeFn()

	if watchConfig {
		go func() {
			if err := config.Watch(ctx, configPath, func(next *config.Config) {
				applyReload(srv.Pipeline(), next)
			}); err != nil {
				logging.BootError("Config watch disabled: %v", err)
			}
		}()
	}

	logging.Boot("Serving model=%s db=%s ladder=%d steps", cfg.Model.Model, cfg.Store.DatabasePath, len(cfg.Ladder))
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

// buildServer wires the pipeline from cfg. The returned func releases
// resources owned by the server.
func buildServer(cfg *config.Config, st *store.LocalStore, models generation.ContentStreamer) (*server.Server, func(), error) {
	ladder, err := generation.NewLadder(cfg.Ladder)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid ladder: %w", err)
	}
	fetcher := injuries.NewFetcher(cfg.Injuries.BaseURL, cfg.GetInjuryTimeout(), cfg.GetInjuryTTL())

	pipeline, err := server.NewPipeline(server.Deps{
		Resolver:  live.NewResolver(st),
		Live:      live.NewFetcher(st, cfg.GetFreshnessWindow()),
		Injuries:  fetcher,
		Priors:    st,
		Assembler: prompt.NewAssembler(assemblerLimits(cfg), cfg.GetLocation()),
		Ladder:    ladder,
		Generator: generation.NewAdapter(models, generation.Options{
			Model:          cfg.Model.Model,
			EnableThinking: cfg.Model.EnableThinking,
			Temperature:    cfg.Model.Temperature,
		}),
		Extractor:   picks.NewExtractor(),
		Sink:        persist.NewSink(st, cfg.Persistence.MaxTurns),
		StepBackoff: cfg.GetStepBackoff(),
	})
	if err != nil {
		fetcher.Close()
		return nil, nil, err
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(pipeline, server.Options{
		RequestTimeout: cfg.GetRequestTimeout(),
		Health:         st.Ping,
	})
	return srv, fetcher.Close, nil
}

func assemblerLimits(cfg *config.Config) prompt.Limits {
	def := prompt.DefaultLimits()
	pick := func(v, d int) int {
		if v > 0 {
			return v
		}
		return d
	}
	a := cfg.Assembler
	return prompt.Limits{
		PhaseChars:  pick(a.PhaseChars, def.PhaseChars),
		LiveChars:   pick(a.LiveChars, def.LiveChars),
		AuxChars:    pick(a.AuxChars, def.AuxChars),
		PriorsChars: pick(a.PriorsChars, def.PriorsChars),
		TotalChars:  pick(a.TotalChars, def.TotalChars),
	}
}

// applyReload swaps the parts of the config that are safe to change live.
func applyReload(p *server.Pipeline, next *config.Config) {
	p.SetAssembler(prompt.NewAssembler(assemblerLimits(next), next.GetLocation()))
	if err := logging.SetLevel(next.Logging.Level); err != nil {
		logging.BootError("Ignoring log level %q: %v", next.Logging.Level, err)
	}
}
