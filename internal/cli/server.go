package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/slawa19/GEOv0-sub001/internal/di"
)

// serverCmd runs the background daemons: the recovery loop, the
// auto-clearing ticker and the periodic integrity checkpoint. Request
// traffic enters through the process boundary wired around the payment
// and trustline services; this command keeps the ledger live.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the creditd daemon",
	Long: `Start the creditd daemon: opens the store, runs a recovery pass,
then keeps the recovery loop, auto-clearing and integrity
checkpointing running until interrupted.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServer(cmd, args)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	provider, err := buildProvider()
	if err != nil {
		return err
	}
	cfg := provider.GetConfig()
	log, err := provider.Logger()
	if err != nil {
		return err
	}
	st, err := provider.Store()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	loop, err := provider.RecoveryLoop()
	if err != nil {
		return err
	}
	loop.Start(ctx)
	defer loop.Stop()

	integritySvc, err := provider.IntegrityService()
	if err != nil {
		return err
	}
	checkpointTicker := time.NewTicker(cfg.Integrity.CheckpointInterval)
	defer checkpointTicker.Stop()

	var clearingTicker *time.Ticker
	var clearingC <-chan time.Time
	if cfg.Features.ClearingEnabled {
		clearingTicker = time.NewTicker(cfg.Clearing.AutoInterval)
		defer clearingTicker.Stop()
		clearingC = clearingTicker.C
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	log.Info("creditd started",
		zap.String("node", cfg.Node.Name),
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("standalone", cfg.Node.Standalone),
		zap.Bool("clearing", cfg.Features.ClearingEnabled))

	for {
		select {
		case <-stop:
			log.Info("shutting down")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-checkpointTicker.C:
			if _, err := integritySvc.Verify(ctx, ""); err != nil {
				log.Warn("integrity checkpoint failed", zap.Error(err))
			}
		case <-clearingC:
			runAutoClear(ctx, provider, log)
		}
	}
}

func runAutoClear(ctx context.Context, provider *di.Provider, log *zap.Logger) {
	cfg := provider.GetConfig()
	engine, err := provider.ClearingEngine()
	if err != nil {
		log.Warn("clearing engine unavailable", zap.Error(err))
		return
	}
	st, err := provider.Store()
	if err != nil {
		log.Warn("store unavailable", zap.Error(err))
		return
	}
	codes, err := activeEquivalents(ctx, st)
	if err != nil {
		log.Warn("equivalent scan failed", zap.Error(err))
		return
	}

	// Equivalents are independent debt graphs, so they clear in
	// parallel; the distributed lock still serializes per equivalent
	// across processes.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, code := range codes {
		code := code
		g.Go(func() error {
			cleared, err := engine.AutoClear(gctx, code, cfg.Clearing.MaxDepth)
			if err != nil {
				log.Warn("auto-clearing failed",
					zap.String("equivalent", code),
					zap.Error(err))
				return nil
			}
			if cleared > 0 {
				log.Info("auto-clearing pass done",
					zap.String("equivalent", code),
					zap.Int("cleared", cleared))
			}
			return nil
		})
	}
	_ = g.Wait()
}
