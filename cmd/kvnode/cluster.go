package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kvnode/kvnode/internal/logging"
	"github.com/kvnode/kvnode/internal/tempdir"
	"github.com/kvnode/kvnode/lib/lsm"
	"github.com/kvnode/kvnode/lib/topology"
	"github.com/kvnode/kvnode/rpc/coordinator"
	kvhttp "github.com/kvnode/kvnode/rpc/http"
)

const shutdownTimeout = 5 * time.Second

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Boot a multi-node cluster in a single process",
	Long: `Boot N kvnode replicas in one process, each with its own storage
engine and listener, sharing nothing but the process. Intended for local
testing and demos, not production deployment.`,
	RunE: runCluster,
}

func init() {
	clusterCmd.Flags().Int("size", 3, wrapString("Number of nodes to boot"))
	clusterCmd.Flags().String("bind-host", "127.0.0.1", wrapString("Host each node's listener binds to"))
	clusterCmd.Flags().Int("base-port", 9000, wrapString("First node listens here; subsequent nodes increment by one"))
	clusterCmd.Flags().Bool("debug", false, wrapString("Enable per-request debug logging on every node's HTTP surface"))
}

type clusterNode struct {
	url     string
	engine  *lsm.Engine
	coord   *coordinator.Coordinator
	server  *http.Server
	dataDir string
}

func runCluster(cmd *cobra.Command, _ []string) error {
	size, err := cmd.Flags().GetInt("size")
	if err != nil {
		return err
	}
	if size < 1 {
		return fmt.Errorf("cluster: size must be at least 1")
	}
	bindHost, err := cmd.Flags().GetString("bind-host")
	if err != nil {
		return err
	}
	basePort, err := cmd.Flags().GetInt("base-port")
	if err != nil {
		return err
	}
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return err
	}
	if debug {
		logging.SetGlobalLevel(logging.Debug)
	}

	dataDirs, err := tempdir.CreateN(size, "cluster-node")
	if err != nil {
		return fmt.Errorf("cluster: allocate data directories: %w", err)
	}
	defer tempdir.RemoveAll(dataDirs)

	urls := make([]string, size)
	for i := 0; i < size; i++ {
		urls[i] = fmt.Sprintf("http://%s", net.JoinHostPort(bindHost, fmt.Sprintf("%d", basePort+i)))
	}

	nodes := make([]*clusterNode, size)
	for i := 0; i < size; i++ {
		topo, err := topology.New(urls, urls[i])
		if err != nil {
			return fmt.Errorf("cluster: node %d topology: %w", i, err)
		}
		engine, err := lsm.Open(lsm.Config{Dir: dataDirs[i]})
		if err != nil {
			return fmt.Errorf("cluster: node %d open engine: %w", i, err)
		}
		coord := coordinator.New(coordinator.Config{Topology: topo, Local: engine})
		srv := kvhttp.NewServer(kvhttp.Config{Coordinator: coord, Debug: debug})
		nodes[i] = &clusterNode{
			url:     urls[i],
			engine:  engine,
			coord:   coord,
			dataDir: dataDirs[i],
			server: &http.Server{
				Addr:    net.JoinHostPort(bindHost, fmt.Sprintf("%d", basePort+i)),
				Handler: srv.Handler(),
			},
		}
	}

	errCh := make(chan error, size)
	for _, n := range nodes {
		go func(n *clusterNode) {
			if err := n.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("node %s: %w", n.url, err)
			}
		}(n)
	}

	for _, n := range nodes {
		log.Infof("cluster node up at %s (data dir %s)", n.url, n.dataDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		log.Errorf("cluster: node failed: %v", err)
	case <-ctx.Done():
		log.Infof("cluster: shutting down")
	}

	for _, n := range nodes {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = n.server.Shutdown(shutdownCtx)
		cancel()
		_ = n.engine.Close()
	}
	return nil
}
