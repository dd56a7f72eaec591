package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvnode/kvnode/internal/logging"
	"github.com/kvnode/kvnode/lib/lsm"
	"github.com/kvnode/kvnode/lib/topology"
	"github.com/kvnode/kvnode/rpc/coordinator"
	kvhttp "github.com/kvnode/kvnode/rpc/http"
)

var log = logging.Get("cmd/kvnode")

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start a kvnode server",
	Long:    `Start a kvnode server with the given configuration. Configuration can be set via command line flags or environment variables of the form KVNODE_<FLAG> (e.g. KVNODE_DATA_DIR=/var/lib/kvnode).`,
	PreRunE: processServeConfig,
	RunE:    runServe,
}

func init() {
	cobra.OnInitialize(initEnv)

	serveCmd.Flags().String("endpoint", "0.0.0.0:8080", wrapString("The address this node's HTTP server listens on"))
	serveCmd.Flags().String("data-dir", "data", wrapString("The directory this node's storage engine exclusively owns"))
	serveCmd.Flags().String("self", "", wrapString("This node's own URL as it appears in --nodes (defaults to http://<endpoint>)"))
	serveCmd.Flags().String("nodes", "", wrapString("Comma-separated list of every node's URL in the cluster, including this one. A single-node cluster may omit this and fall back to --self alone"))
	serveCmd.Flags().String("log-level", "info", wrapString("Logging level: debug, info, warn, error"))
	serveCmd.Flags().Bool("debug", false, wrapString("Enable per-request logging on the HTTP surface; the messages are written at debug level, so they appear only with --log-level debug"))
	serveCmd.Flags().Int("memtable-size-bytes", lsm.DefaultMemtableSizeBytes, wrapString("Memtable flush threshold in bytes"))
}

func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
	viper.SetEnvPrefix("kvnode")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

type serveConfig struct {
	endpoint          string
	dataDir           string
	self              string
	nodes             []string
	logLevel          logging.Level
	debug             bool
	memtableSizeBytes int
}

var serveCmdConfig serveConfig

func processServeConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.endpoint = viper.GetString("endpoint")
	serveCmdConfig.dataDir = viper.GetString("data-dir")
	serveCmdConfig.logLevel = logging.ParseLevel(viper.GetString("log-level"))
	serveCmdConfig.debug = viper.GetBool("debug")
	serveCmdConfig.memtableSizeBytes = viper.GetInt("memtable-size-bytes")

	serveCmdConfig.self = viper.GetString("self")
	if serveCmdConfig.self == "" {
		serveCmdConfig.self = "http://" + serveCmdConfig.endpoint
	}

	if raw := viper.GetString("nodes"); raw != "" {
		for _, n := range strings.Split(raw, ",") {
			n = strings.TrimSpace(n)
			if n != "" {
				serveCmdConfig.nodes = append(serveCmdConfig.nodes, n)
			}
		}
	} else {
		serveCmdConfig.nodes = []string{serveCmdConfig.self}
	}

	return nil
}

func runServe(_ *cobra.Command, _ []string) error {
	logging.SetGlobalLevel(serveCmdConfig.logLevel)

	topo, err := topology.New(serveCmdConfig.nodes, serveCmdConfig.self)
	if err != nil {
		return fmt.Errorf("topology: %w", err)
	}

	engine, err := lsm.Open(lsm.Config{
		Dir:               serveCmdConfig.dataDir,
		MemtableSizeBytes: serveCmdConfig.memtableSizeBytes,
	})
	if err != nil {
		return fmt.Errorf("open storage engine: %w", err)
	}
	defer engine.Close()

	coord := coordinator.New(coordinator.Config{Topology: topo, Local: engine})
	server := kvhttp.NewServer(kvhttp.Config{Coordinator: coord, Debug: serveCmdConfig.debug})

	log.Infof("node %s listening on %s (cluster: %s)", serveCmdConfig.self, serveCmdConfig.endpoint, strings.Join(serveCmdConfig.nodes, ","))
	return http.ListenAndServe(serveCmdConfig.endpoint, server.Handler())
}
