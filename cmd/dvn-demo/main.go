package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ChaosChain/chaoschain-dvn/internal/agent"
	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	"github.com/ChaosChain/chaoschain-dvn/internal/contentstore"
	"github.com/ChaosChain/chaoschain-dvn/internal/datasource"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/ledger"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
	"github.com/ChaosChain/chaoschain-dvn/internal/proofs"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

type demoScenario struct {
	StoreID  string
	Section  string
	Scenario string
	Action   poa.ActionType
}

var scenarios = []demoScenario{
	{StoreID: "store_123", Section: "electronics", Scenario: "normal", Action: poa.ActionStockReport},
	{StoreID: "store_456", Section: "smartphones", Scenario: "mixed", Action: poa.ActionInventoryAudit},
	{StoreID: "store_789", Section: "accessories", Scenario: "problematic", Action: poa.ActionReorderAlert},
}

func main() {
	seed := flag.Int64("seed", 42, "simulated scan seed")
	only := flag.String("scenario", "", "override the scan scenario for every store")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *level, Format: "text"}); err != nil {
		log.Fatal(err)
	}
	if err := run(context.Background(), *seed, *only); err != nil {
		log.Fatalf("dvn-demo 运行失败: %v", err)
	}
}

func run(ctx context.Context, seed int64, only string) error {
	store := contentstore.NewMemoryStore()
	chain := web3.NewSimulatedSubmitter("simulated")
	results, err := ledger.NewMemoryLedger("")
	if err != nil {
		return err
	}

	verifiers, err := agent.BuildPopulation(agent.DefaultPopulation(), nil,
		func(agentID string) (attestation.Signer, error) { return proofs.NewSimulatedSigner(agentID), nil },
		chain)
	if err != nil {
		return err
	}
	members := make([]consensus.Verifier, 0, len(verifiers))
	for _, v := range verifiers {
		members = append(members, v)
	}
	cfg := consensus.DefaultConfig()
	network := agent.NewNetwork(store, consensus.NewCoordinator(cfg), members, agent.WithLedger(results))
	worker := agent.NewWorker("worker_kirana_1", datasource.NewSimulatedSource(seed), store,
		agent.WithNoticeSubmitter(chain))

	fmt.Printf("DVN demo: %d scenarios, %d verifiers, threshold %.0f%%, quorum %d\n",
		len(scenarios), len(members), cfg.ThresholdPercent, cfg.MinimumQuorum)

	for i, sc := range scenarios {
		scenario := sc.Scenario
		if only != "" {
			scenario = only
		}
		printSection(fmt.Sprintf("Scenario %d/%d: %s - %s (%s)", i+1, len(scenarios), sc.StoreID, sc.Section, scenario))

		sub, err := worker.Submit(ctx, agent.WorkRequest{
			StoreID:      sc.StoreID,
			Section:      sc.Section,
			Scenario:     scenario,
			ActionType:   sc.Action,
			StudioID:     "studio_kirana",
		})
		if err != nil {
			fmt.Printf("worker failed: %v\n", err)
			continue
		}
		fmt.Printf("worker: items=%d anomalies=%d quality=%s\n", sub.ItemsScanned, sub.Anomalies, sub.Quality)
		fmt.Printf("        address=%s hash=%s\n", sub.ContentAddress, sub.PackageHash)
		if sub.Notice != nil {
			fmt.Printf("        notice tx=%s\n", sub.Notice.TransactionID)
		}

		result, err := network.Execute(ctx, agent.RoundRequest{
			SubmissionID:   sub.SubmissionID,
			ContentAddress: sub.ContentAddress,
			PackageHash:    sub.PackageHash,
		})
		if err != nil {
			fmt.Printf("round failed: %v\n", err)
			continue
		}
		printRound(result.Round)
	}
	return nil
}

func printSection(title string) {
	line := strings.Repeat("=", 72)
	fmt.Printf("\n%s\n %s\n%s\n", line, title, line)
}

func printRound(round consensus.Round) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERIFIER\tSTATUS\tDECISION\tSCORE\tCONFIDENCE\tCHAIN")
	atts := append([]attestation.Attestation(nil), round.Attestations...)
	sort.Slice(atts, func(i, j int) bool { return atts[i].VerifierAgentID < atts[j].VerifierAgentID })
	bySpec := make(map[evaluation.Specialization][]attestation.Attestation)
	for _, att := range atts {
		bySpec[att.Specialization] = append(bySpec[att.Specialization], att)
		if !att.Successful() {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t%s\n", att.VerifierAgentID, att.Status, att.Error)
			continue
		}
		decision := "REJECT"
		if att.Decision {
			decision = "APPROVE"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			att.VerifierAgentID, att.Status, decision, att.OverallScore, att.Confidence, att.Submission.Status)
	}
	_ = tw.Flush()

	v := round.Verdict
	fmt.Printf("\nverdict: %s (verified=%v)\n", v.State, v.Verified)
	fmt.Printf("  successful %d/%d, approvals %d, rejections %d, approval rate %.1f%%, threshold %.0f%%\n",
		v.SuccessfulEvaluations, v.TotalVerifiers, v.Approvals, v.Rejections, v.ApprovalRate*100, v.ThresholdPercent)

	specs := make([]string, 0, len(bySpec))
	for spec := range bySpec {
		specs = append(specs, string(spec))
	}
	sort.Strings(specs)
	for _, spec := range specs {
		var total float64
		var approved, counted int
		for _, att := range bySpec[evaluation.Specialization(spec)] {
			if !att.Successful() {
				continue
			}
			counted++
			total += att.OverallScore
			if att.Decision {
				approved++
			}
		}
		if counted == 0 {
			continue
		}
		fmt.Printf("  %-12s avg score %.2f, approved %d/%d\n", spec, total/float64(counted), approved, counted)
	}
}
