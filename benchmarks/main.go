package benchmarks

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sushantsondhi/dcoord/client"
	"github.com/sushantsondhi/dcoord/common"
	"github.com/sushantsondhi/dcoord/config"
	"github.com/sushantsondhi/dcoord/rpc"
	"go.uber.org/multierr"
)

const pollInterval = 5 * time.Millisecond

func connect(configFile string) (config.Config, *client.Client) {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	c, err := client.NewClient(cfg.Cluster, rpc.NewManagerWithTimeout(cfg.ClusterConfig().CallTimeout))
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	return cfg, c
}

// deliveredCounts returns how many messages each node has delivered so far.
func deliveredCounts(c *client.Client) ([]int64, error) {
	statuses, err := c.ClusterHealth()
	if err != nil {
		return nil, err
	}
	counts := make([]int64, len(c.Nodes))
	for _, status := range statuses {
		counts[status.ID] = status.Delivered
	}
	return counts, nil
}

// waitForDelivery blocks until every node has delivered target[i] messages.
func waitForDelivery(c *client.Client, target []int64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		counts, err := deliveredCounts(c)
		if err == nil {
			done := true
			for i := range counts {
				if counts[i] < target[i] {
					done = false
				}
			}
			if done {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return multierr.Append(err, fmt.Errorf("delivery incomplete after %v: %v of %v", timeout, counts, target))
		}
		time.Sleep(pollInterval)
	}
}

// verifyTotalOrder checks that every node delivered the same messages in the
// same order from the given offsets on.
func verifyTotalOrder(c *client.Client, from []int64) error {
	var reference []common.Message
	var err error
	for id := range c.Nodes {
		messages, getErr := c.Delivered(common.ProcessID(id), from[id])
		if getErr != nil {
			err = multierr.Append(err, getErr)
			continue
		}
		if reference == nil {
			reference = messages
			continue
		}
		for i := range reference {
			if i >= len(messages) || messages[i].ID != reference[i].ID {
				err = multierr.Append(err, fmt.Errorf("node %d diverges from the first node at position %d", id, i))
				break
			}
		}
	}
	return err
}

func BenchmarkMulticastLatency(args []string) {
	flagset := flag.NewFlagSet("bench1", flag.ExitOnError)
	configFile := flagset.String("config", "config.yaml", "YAML file containing cluster details")
	var numRequests int
	flagset.IntVar(&numRequests, "numRequests", 100, "Number of messages to multicast")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	cfg, c := connect(*configFile)

	base, err := deliveredCounts(c)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	fmt.Printf("Running Performance Check: Multicast Delivery Latency\n")
	start := time.Now()
	for i := 0; i < numRequests; i++ {
		origin := common.ProcessID(i % len(cfg.Cluster))
		if _, err := c.InitiateAt(origin, fmt.Sprintf("bench-%d", i)); err != nil {
			fmt.Println(err)
		}
	}
	sent := time.Since(start)

	target := make([]int64, len(base))
	for i := range base {
		target[i] = base[i] + int64(numRequests)
	}
	if err := waitForDelivery(c, target, time.Minute); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	elapsed := time.Since(start)
	fmt.Printf("[Benchmark] %d multicasts were initiated in %s and delivered everywhere in %s on %d nodes.\n", numRequests, sent, elapsed, len(cfg.Cluster))

	if err := verifyTotalOrder(c, base); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("[Benchmark] delivery order identical on all %d nodes.\n", len(cfg.Cluster))
}

func BenchmarkMutexHandoff(args []string) {
	flagset := flag.NewFlagSet("bench2", flag.ExitOnError)
	configFile := flagset.String("config", "config.yaml", "YAML file containing cluster details")
	var rounds int
	flagset.IntVar(&rounds, "rounds", 20, "Number of times every node acquires the resource")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	if rounds <= 0 {
		fmt.Println("rounds must be positive")
		os.Exit(2)
	}
	cfg, c := connect(*configFile)

	fmt.Printf("Running Performance Check: Mutex Hand-off\n")
	var total, worst time.Duration
	acquisitions := 0
	start := time.Now()
	for round := 0; round < rounds; round++ {
		for _, server := range cfg.Cluster {
			t := time.Now()
			if _, err := c.RequestResource(server.ID); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			for {
				status, err := c.Health(server.ID)
				if err == nil && status.MutexState == common.Held {
					break
				}
				time.Sleep(pollInterval)
			}
			latency := time.Since(t)
			total += latency
			if latency > worst {
				worst = latency
			}
			acquisitions++
			if err := c.ReleaseResource(server.ID); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
		}
	}
	elapsed := time.Since(start)
	fmt.Printf("[Benchmark] %d acquisitions took %s on %d nodes (mean %s, worst %s).\n",
		acquisitions, elapsed, len(cfg.Cluster), total/time.Duration(acquisitions), worst)
}

func BenchmarkParallelMulticast(args []string) {
	flagset := flag.NewFlagSet("bench3", flag.ExitOnError)
	configFile := flagset.String("config", "config.yaml", "YAML file containing cluster details")
	var numRequests, numClients int
	flagset.IntVar(&numRequests, "numRequests", 100, "Number of messages to multicast")
	flagset.IntVar(&numClients, "numClients", 10, "Number of concurrent clients")
	if err := flagset.Parse(args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	if numClients <= 0 {
		fmt.Println("numClients must be positive")
		os.Exit(2)
	}
	cfg, c := connect(*configFile)
	base, err := deliveredCounts(c)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	fmt.Printf("Running Performance Check: Parallel Multicast Throughput\n")
	reqsPerClient := numRequests / numClients
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < numClients; i++ {
		index := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			own, err := client.NewClient(cfg.Cluster, rpc.NewManagerWithTimeout(cfg.ClusterConfig().CallTimeout))
			if err != nil {
				fmt.Println(err)
				os.Exit(2)
			}
			for i := index * reqsPerClient; i < (index+1)*reqsPerClient; i++ {
				origin := common.ProcessID((index + i) % len(cfg.Cluster))
				if _, err := own.InitiateAt(origin, fmt.Sprintf("bench-%d", i)); err != nil {
					fmt.Println(err)
				}
			}
		}()
	}
	wg.Wait()

	target := make([]int64, len(base))
	for i := range base {
		target[i] = base[i] + int64(reqsPerClient*numClients)
	}
	if err := waitForDelivery(c, target, time.Minute); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	elapsed := time.Since(start)
	fmt.Printf("[Benchmark] %d concurrent multicasts were delivered everywhere in %s on %d nodes.\n", reqsPerClient*numClients, elapsed, len(cfg.Cluster))
	if err := verifyTotalOrder(c, base); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
