package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/openhazard/engine/internal/calc"
	"github.com/openhazard/engine/internal/config"
	"github.com/openhazard/engine/internal/remote"
)

var (
	workerListen    string
	workerCalcPath  string
	workerModelPath string
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve hazard tasks to a remote coordinator",
		RunE:  runWorker,
	}
	cmd.Flags().StringVar(&workerListen, "listen", ":50051", "Address to listen on")
	cmd.Flags().StringVar(&workerCalcPath, "calculation", "calculation.yaml", "Calculation settings file")
	cmd.Flags().StringVar(&workerModelPath, "model", "model.yaml", "Source model file")
	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workerCalcPath)
	if err != nil {
		return err
	}
	doc, err := config.LoadModel(workerModelPath)
	if err != nil {
		return err
	}
	branches, err := calc.BuildBranches(doc)
	if err != nil {
		return err
	}
	ev, err := cfg.Evaluator()
	if err != nil {
		return err
	}
	runner := calc.NewLocalRunner(branches, cfg.SiteCollection(), ev, cfg.IntegrationDistance())

	lis, err := net.Listen("tcp", workerListen)
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	remote.NewServer(runner, ev.NumLevels(), ev.NumModels()).Register(srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	log.Printf("[WORKER] serving %d branches on %s", len(branches), lis.Addr())
	return srv.Serve(lis)
}
