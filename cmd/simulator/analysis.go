package main

import (
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"consensus-simulator/internal/types"
)

var jobKindOrder = []types.JobKind{types.JobMine, types.JobValidate, types.JobFork, types.JobResolve}

func printAnalysis(w io.Writer, report *batchReport) {
	header := color.New(color.Bold, color.FgCyan)

	fprintf(w, "\n%s\n", strings.Repeat("=", 80))
	fprintf(w, "%s\n", header.Sprint("BATCH RUN ANALYSIS"))
	fprintf(w, "%s\n", strings.Repeat("=", 80))

	if report.Jobs == 0 {
		fprintf(w, "No jobs were executed\n")
		return
	}
	fprintf(w, "Executed %d jobs at %.1f jobs/s\n", report.Jobs, report.Rate)

	fprintf(w, "\n%s\n", strings.Repeat("-", 80))
	fprintf(w, "%s\n", header.Sprint("1. Jobs by kind"))
	for _, kind := range jobKindOrder {
		s, ok := report.PerKind[kind]
		if !ok {
			continue
		}
		fprintf(w, "   %-9s: %4d ok, %4d skipped, %4d failed\n", kind, s.Succeeded, s.Skipped, s.Failed)
	}

	results := append([]types.Metrics(nil), report.Metrics...)

	fprintf(w, "\n%s\n", strings.Repeat("-", 80))
	fprintf(w, "%s\n", header.Sprint("2. Confirmed blocks"))
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ConfirmedBlocks > results[j].ConfirmedBlocks
	})
	for i, m := range results {
		marker := " "
		if i == 0 && m.ConfirmedBlocks > 0 {
			marker = "*"
		}
		fprintf(w, "   %s %-5s: %5d blocks in %5d rounds (%.1f%% success)\n",
			marker, m.Algorithm, m.ConfirmedBlocks, m.TotalRounds, m.SuccessRate*100)
	}

	fprintf(w, "\n%s\n", strings.Repeat("-", 80))
	fprintf(w, "%s\n", header.Sprint("3. Average time per round"))
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].ConsensusTimeAvg < results[j].ConsensusTimeAvg
	})
	for _, m := range results {
		fprintf(w, "     %-5s: %8.2f ms\n", m.Algorithm, m.ConsensusTimeAvg)
	}

	for _, m := range results {
		switch m.Algorithm {
		case "PoW":
			fprintf(w, "\n   PoW difficulty settled at %d leading zeros\n", m.Difficulty)
		case "Fork":
			fprintf(w, "   Forks created: %d, branches alive: %d\n", m.ForkCount, m.Branches)
		}
	}

	if report.Tree != "" {
		fprintf(w, "\n%s\n", strings.Repeat("-", 80))
		fprintf(w, "%s\n", header.Sprint("4. Fork tree"))
		fprintf(w, "%s", report.Tree)
	}
}
