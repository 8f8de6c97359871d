package main

import (
	"context"
	"fmt"
)

// sweepDeadlines runs one deadline sweep. It is meant to be scheduled (eg. hourly cron).
func (cli *commandLine) sweepDeadlines() error {
	report, err := cli.taskSvc.SweepDeadlines(context.Background(), nowFunc())
	if err != nil {
		return err
	}

	var failed int
	for _, p := range report.Penalties {
		if p.Error != "" {
			failed++
			fmt.Printf("penalty failed: task %s, user %s: %s\n", p.TaskID, p.UserID, p.Error)
		}
	}
	fmt.Printf("%d assignments expired, %d penalties applied, %d failed\n", len(report.Expired), len(report.Penalties)-failed, failed)
	return nil
}
