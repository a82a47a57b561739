package sim

import (
	"fmt"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/si3792/multiagent-distributed-locking/cmd/util"
	"github.com/si3792/multiagent-distributed-locking/lib/acl"
	"github.com/si3792/multiagent-distributed-locking/lib/dlm"
	"github.com/si3792/multiagent-distributed-locking/lib/logging"
	"github.com/si3792/multiagent-distributed-locking/transport/local"
)

var (
	// SimCmd runs an in-process locking simulation
	SimCmd = &cobra.Command{
		Use:   "sim",
		Short: "Run an in-process locking simulation",
		Long: "Run several locking engines in one process, connected by an " +
			"in-memory message bus, and let them take turns locking a shared resource. " +
			"Reports lock acquisition latencies per agent.",
		RunE: runSim,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Flags
	SimCmd.Flags().String("protocol", "ricart_agrawala",
		util.WrapString("locking protocol (ricart_agrawala, ricart_agrawala_extended, suzuki_kasami, suzuki_kasami_extended)"))
	SimCmd.Flags().Int("agents", 3, util.WrapString("number of agents"))
	SimCmd.Flags().Int("rounds", 10, util.WrapString("lock/unlock rounds per agent"))
}

// runSim handles the sim command
func runSim(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	logging.InitLoggers(viper.GetString("log-level"))

	protocol, err := dlm.ParseProtocol(viper.GetString("protocol"))
	if err != nil {
		return err
	}

	serializer, err := util.GetTokenSerializer()
	if err != nil {
		return err
	}

	numAgents := viper.GetInt("agents")
	rounds := viper.GetInt("rounds")
	if numAgents < 2 {
		return fmt.Errorf("need at least 2 agents, got %d", numAgents)
	}

	const resource = "shared-resource"

	// The first agent physically owns the shared resource
	agents := make([]acl.AgentID, numAgents)
	for i := range agents {
		agents[i] = acl.AgentID(fmt.Sprintf("agent%d", i+1))
	}

	bus := local.NewMessageBus()
	engines := make([]dlm.IDLM, numAgents)
	for i, agent := range agents {
		var owned []string
		if i == 0 {
			owned = []string{resource}
		}
		engine, err := dlm.NewWithTokenSerializer(protocol, agent, owned, serializer)
		if err != nil {
			return err
		}
		engines[i] = engine
		bus.Register(engine)
	}

	// Resolve the resource owner everywhere before locking
	for i, engine := range engines {
		if i == 0 {
			continue
		}
		engine.Discover(resource, peersOf(agents, i))
	}
	bus.DeliverAll()

	// Run the contention rounds
	registry := gometrics.NewRegistry()
	fmt.Printf("running %d rounds over %d agents with protocol %s\n\n", rounds, numAgents, protocol)

	for round := 0; round < rounds; round++ {
		for i, engine := range engines {
			timer := gometrics.GetOrRegisterTimer(string(agents[i]), registry)

			start := time.Now()
			if err := engine.Lock(resource, peersOf(agents, i)); err != nil {
				return fmt.Errorf("round %d: %v", round, err)
			}
			for engine.GetLockState(resource) != dlm.Locked {
				if moved := bus.DeliverAll(); moved == 0 {
					bus.Tick()
				}
			}
			timer.UpdateSince(start)

			engine.Unlock(resource)
			bus.DeliverAll()
		}
	}

	printReport(registry, agents)
	return nil
}

// peersOf returns every agent except the one at index i
func peersOf(agents []acl.AgentID, i int) []acl.AgentID {
	peers := make([]acl.AgentID, 0, len(agents)-1)
	for j, agent := range agents {
		if j != i {
			peers = append(peers, agent)
		}
	}
	return peers
}

// printReport prints per-agent lock latency statistics
func printReport(registry gometrics.Registry, agents []acl.AgentID) {
	fmt.Printf("%-10s %8s %12s %12s %12s\n", "agent", "locks", "mean", "p95", "max")
	for _, agent := range agents {
		timer := gometrics.GetOrRegisterTimer(string(agent), registry)
		fmt.Printf("%-10s %8d %12s %12s %12s\n",
			agent,
			timer.Count(),
			time.Duration(int64(timer.Mean())),
			time.Duration(int64(timer.Percentile(0.95))),
			time.Duration(timer.Max()),
		)
	}
}
