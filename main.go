package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sushantsondhi/dcoord/benchmarks"
	"github.com/sushantsondhi/dcoord/client"
	"github.com/sushantsondhi/dcoord/common"
	"github.com/sushantsondhi/dcoord/config"
	"github.com/sushantsondhi/dcoord/gateway"
	"github.com/sushantsondhi/dcoord/node"
	"github.com/sushantsondhi/dcoord/persistent"
	"github.com/sushantsondhi/dcoord/rpc"
	"go.uber.org/multierr"
)

// loadConfig reads the cluster from configFile, or entirely from the
// environment if no file is given.
func loadConfig(configFile string, index int) (config.Config, common.ProcessID, error) {
	if configFile == "" {
		return config.FromEnv()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, 0, err
	}
	me, err := cfg.ApplyEnv(common.ProcessID(index))
	return cfg, me, err
}

func runServer(args []string) {
	flagset := flag.NewFlagSet("server", flag.ExitOnError)
	configFile := flagset.String("config", "", "YAML file containing cluster & configuration details (default: from environment)")
	index := flagset.Int("me", 0, "Index of this server in the config file (PROCESS_ID overrides)")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	cfg, me, err := loadConfig(*configFile, *index)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	clusterConfig := cfg.ClusterConfig()
	if err := clusterConfig.Validate(); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	self, ok := clusterConfig.Lookup(me)
	if !ok {
		fmt.Printf("invalid index: %d (config specified %d servers only)\n", me, len(cfg.Cluster))
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	pStorePath, deliveryLogPath := cfg.StorePaths(me)
	deliveryLog, logErr := persistent.CreateDbDeliveryLog(deliveryLogPath)
	pStore, pErr := persistent.NewPStore(pStorePath)
	if err := multierr.Combine(logErr, pErr); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	manager := rpc.NewManagerWithTimeout(clusterConfig.CallTimeout)
	server, err := node.NewNode(self, clusterConfig, deliveryLog, pStore, manager)
	if err != nil {
		fmt.Println(multierr.Combine(err, deliveryLog.Close(), pStore.Close()))
		os.Exit(2)
	}

	var gw *gateway.Gateway
	if self.HTTPAddress != "" {
		gw = gateway.New(server)
		if err := gw.Start(self.HTTPAddress); err != nil {
			fmt.Println(multierr.Combine(err, server.Stop()))
			os.Exit(2)
		}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	fmt.Println("Stopping server ...")
	if gw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = gw.Shutdown(ctx)
		cancel()
	}
	if err := multierr.Combine(err, server.Stop()); err != nil {
		fmt.Println(err)
	}
}

func generateConfig(args []string) {
	flagset := flag.NewFlagSet("config", flag.ExitOnError)
	var filepath, servers, httpServers, dataDir string
	var callTimeout int
	flagset.StringVar(&filepath, "file", "config.yaml", "full path of config file to write to")
	flagset.StringVar(&servers, "servers", "localhost:5000,localhost:5001,localhost:5002", "comma-separated list of RPC addresses of the nodes, in process id order")
	flagset.StringVar(&httpServers, "http", "", "comma-separated list of HTTP gateway addresses of the nodes (optional)")
	flagset.StringVar(&dataDir, "dataDir", ".", "directory the nodes keep their bolt files in")
	flagset.IntVar(&callTimeout, "callTimeout", int(common.DefaultCallTimeout/time.Millisecond), "transport call timeout (in milliseconds)")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	var httpAddresses []string
	if httpServers != "" {
		httpAddresses = strings.Split(httpServers, ",")
	}
	cfg := config.Generate(strings.Split(servers, ","), httpAddresses, time.Duration(callTimeout)*time.Millisecond)
	cfg.DataDir = dataDir
	if err := cfg.ClusterConfig().Validate(); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	if err := cfg.Save(filepath); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
}

func runClient(args []string) {
	flagset := flag.NewFlagSet("client", flag.ExitOnError)
	configFile := flagset.String("config", "", "YAML file containing cluster details (default: from environment)")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	cfg, _, err := loadConfig(*configFile, 0)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	manager := rpc.NewManagerWithTimeout(cfg.ClusterConfig().CallTimeout)
	err = client.RunCliClient(cfg.Cluster, manager)
	fmt.Println(err)
}

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Printf("usage: %s config | server | client | bench1 | bench2 | bench3 ...\n", os.Args[0])
		os.Exit(2)
	}
	switch args[0] {
	case "config":
		generateConfig(args[1:])
	case "server":
		runServer(args[1:])
	case "client":
		runClient(args[1:])
	case "bench1":
		benchmarks.BenchmarkMulticastLatency(args[1:])
	case "bench2":
		benchmarks.BenchmarkMutexHandoff(args[1:])
	case "bench3":
		benchmarks.BenchmarkParallelMulticast(args[1:])
	default:
		fmt.Printf("unknown sub-command: %s\n", args[0])
		os.Exit(2)
	}
}
