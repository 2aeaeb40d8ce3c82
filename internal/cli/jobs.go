package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect training jobs",
}

var jobsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List training jobs",
	RunE:    runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one training job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

func runJobsList(cmd *cobra.Command, args []string) error {
	var jobs []domain.TrainingJob
	if err := getJSON(apiAddr+"/api/jobs", &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No training jobs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tARCHITECTURE\tSTATUS\tROUND\tQUORUM")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\n",
			j.JobID, j.Architecture, j.Status, j.CurrentRound, j.TargetRounds, j.Quorum)
	}
	return w.Flush()
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	var job domain.TrainingJob
	if err := getJSON(apiAddr+"/api/jobs/"+args[0], &job); err != nil {
		return err
	}

	fmt.Printf("Job:          %s\n", job.JobID)
	fmt.Printf("Architecture: %s\n", job.Architecture)
	fmt.Printf("Status:       %s\n", job.Status)
	fmt.Printf("Round:        %d/%d\n", job.CurrentRound, job.TargetRounds)
	fmt.Printf("Quorum:       %d\n", job.Quorum)
	fmt.Printf("Started:      %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	return nil
}
