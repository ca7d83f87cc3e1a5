package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/sdk/go/dvn"
)

func main() {
	endpoint := flag.String("endpoint", "http://127.0.0.1:8080", "verification network API address")
	store := flag.String("store", "store_123", "store identifier to scan")
	section := flag.String("section", "electronics", "store section")
	scenario := flag.String("scenario", "normal", "simulated scan scenario")
	flag.Parse()

	client, err := dvn.NewClient(*endpoint, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resp, err := client.SubmitScan(ctx, dvn.ScanRequest{StoreID: *store, Section: *section, Scenario: *scenario})
	if err != nil {
		log.Fatalf("submit scan: %v", err)
	}
	fmt.Printf("submitted %s (address=%s, items=%d, anomalies=%d)\n",
		resp.Submission.SubmissionID, resp.Submission.ContentAddress,
		resp.Submission.ItemsScanned, resp.Submission.Anomalies)
	if resp.Round == nil {
		fmt.Printf("round not queued: %s\n", resp.Warning)
		return
	}

	round, err := client.WaitForRound(ctx, resp.Round.ID, time.Second)
	if err != nil {
		log.Fatalf("wait for round: %v", err)
	}
	if round.Result == nil {
		fmt.Printf("round %s %s: %s\n", round.ID, round.Status, round.LastError)
		return
	}
	fmt.Printf("round %s verdict=%s approvals=%d rate=%.1f%%\n",
		round.ID, round.Result.VerdictState, round.Result.Approvals, round.Result.ApprovalRate*100)

	atts, err := client.Attestations(ctx, resp.Submission.SubmissionID)
	if err != nil {
		log.Fatalf("attestations: %v", err)
	}
	for _, att := range atts {
		fmt.Printf("  %-28s decision=%-5v score=%.1f %s\n", att.VerifierAgentID, att.Decision, att.OverallScore, att.DecisionReason)
	}
}
