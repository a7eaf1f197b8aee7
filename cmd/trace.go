package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/ethereum/execution"
	"github.com/ethpandaops/call-tracer/pkg/processor/transaction/call_trace"
)

var (
	traceRPC     string
	traceHeaders map[string]string
	traceTimeout time.Duration
)

var traceCmd = &cobra.Command{
	Use:   "trace <tx-hash>",
	Short: "Prints the call frames of a single transaction as JSON.",
	Long: `Prints the call frames of a single transaction as JSON. Only an execution
node with the debug namespace is required.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		initCommon()

		if logLevel == "" {
			setLevel("warn")
		}

		decoded, err := hexutil.Decode(args[0])
		if err != nil || len(decoded) != ethcommon.HashLength {
			return fmt.Errorf("invalid transaction hash %q", args[0])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), traceTimeout)
		defer cancel()

		result, err := traceOne(ctx, ethcommon.BytesToHash(decoded))
		if err != nil {
			return err
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")

		return encoder.Encode(result)
	},
}

func init() {
	traceCmd.Flags().StringVar(&traceRPC, "rpc", "http://localhost:8545", "execution node JSON-RPC endpoint")
	traceCmd.Flags().StringToStringVar(&traceHeaders, "header", nil, "extra RPC request headers (key=value)")
	traceCmd.Flags().DurationVar(&traceTimeout, "timeout", 2*time.Minute, "overall timeout")

	rootCmd.AddCommand(traceCmd)
}

func traceOne(ctx context.Context, hash ethcommon.Hash) (*call_trace.Result, error) {
	poolConfig := &ethereum.Config{
		Execution: []*execution.Config{{
			Name:        "cli",
			NodeAddress: traceRPC,
			NodeHeaders: traceHeaders,
		}},
	}

	if err := poolConfig.Validate(); err != nil {
		return nil, err
	}

	pool := ethereum.NewPool(log.WithField("component", "ethereum"), poolConfig)
	pool.Start(ctx)

	defer func() {
		if err := pool.Stop(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to stop pool")
		}
	}()

	if _, err := pool.WaitForHealthyExecutionNode(ctx); err != nil {
		return nil, fmt.Errorf("execution node not ready: %w", err)
	}

	network := ""
	if n, err := pool.Network(ctx); err == nil {
		network = n.Name
	}

	processor, err := call_trace.New(&call_trace.Dependencies{
		Log:     log,
		Pool:    pool,
		Network: network,
	}, &call_trace.Config{Concurrency: 1})
	if err != nil {
		return nil, err
	}

	return processor.TraceTransaction(ctx, hash)
}
