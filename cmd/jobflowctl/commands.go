package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"jobflow/internal/models"
)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printLifecycle(cmd *cobra.Command, opts *options, lc models.JobLifecycle) error {
	if opts.json {
		return writeJSON(cmd, lc)
	}
	rows := [][]string{
		{"Job", lc.JobRef},
		{"Status", string(lc.Status)},
		{"Stage", lc.CurrentStage},
		{"Priority", string(lc.Priority)},
		{"Due", formatTime(lc.DueDate)},
		{"Prepress", orDash(string(lc.PrepressStatus))},
		{"Inventory", orDash(string(lc.InventoryStatus))},
		{"Production", orDash(string(lc.ProductionStatus))},
		{"QA", orDash(string(lc.QAStatus))},
		{"Dispatch", orDash(string(lc.DispatchStatus))},
		{"Version", strconv.FormatInt(lc.Version, 10)},
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
	return nil
}

func newGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-ref>",
		Short: "Show a job's lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lc, err := opts.client().GetLifecycle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printLifecycle(cmd, opts, lc)
		},
	}
}

func newHistoryCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <job-ref>",
		Short: "Show a job's status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := opts.client().History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				at := e.ChangedAt
				rows = append(rows, []string{formatTime(&at), string(e.Status), e.Message, e.ChangedBy})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"When", "Status", "Message", "By"}, rows))
			return nil
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	var status, department, priority string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job lifecycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if department != "" {
				q.Set("department", department)
			}
			if priority != "" {
				q.Set("priority", priority)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			jobs, err := opts.client().List(cmd.Context(), q)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, jobs)
			}
			rows := make([][]string, 0, len(jobs))
			for _, lc := range jobs {
				rows = append(rows, []string{lc.JobRef, string(lc.Status), string(lc.Priority), formatTime(lc.DueDate)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Job", "Status", "Priority", "Due"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only jobs in this lifecycle status")
	cmd.Flags().StringVar(&department, "department", "", "Only jobs currently with this department")
	cmd.Flags().StringVar(&priority, "priority", "", "Only jobs with this priority")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs")
	return cmd
}

func newDashboardCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show job counts by status and department",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.client().Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, d)
			}
			var rows [][]string
			for _, s := range models.AllOverallStatuses {
				if n := d.ByStatus[s]; n > 0 {
					rows = append(rows, []string{string(s), strconv.Itoa(n)})
				}
			}
			rows = append(rows, []string{"ACTIVE", strconv.Itoa(d.Active)}, []string{"TOTAL", strconv.Itoa(d.Total)})
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Status", "Jobs"}, rows, 2))

			depts := make([]string, 0, len(d.ByDepartment))
			for dept := range d.ByDepartment {
				depts = append(depts, string(dept))
			}
			sort.Strings(depts)
			deptRows := make([][]string, 0, len(depts))
			for _, dept := range depts {
				deptRows = append(deptRows, []string{models.Department(dept).DisplayName(), strconv.Itoa(d.ByDepartment[models.Department(dept)])})
			}
			fmt.Fprintln(out, renderTable([]string{"Department", "Jobs"}, deptRows, 2))
			return nil
		},
	}
}

func newNotificationsCommand(opts *options) *cobra.Command {
	var jobRef, recipient string
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if jobRef != "" {
				q.Set("job_ref", jobRef)
			}
			if recipient != "" {
				q.Set("recipient", recipient)
			}
			if unread {
				q.Set("unread", "true")
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			list, err := opts.client().Notifications(cmd.Context(), q)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, list)
			}
			rows := make([][]string, 0, len(list))
			for _, n := range list {
				job := "-"
				if n.JobRef != nil {
					job = *n.JobRef
				}
				at := n.CreatedAt
				rows = append(rows, []string{formatTime(&at), string(n.Priority), job, n.Title, n.Message})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"When", "Priority", "Job", "Title", "Message"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&jobRef, "job", "", "Only notifications for this job")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Only notifications addressed to this user")
	cmd.Flags().BoolVar(&unread, "unread", false, "Only unread notifications")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of notifications")
	return cmd
}

func newCreateCommand(opts *options) *cobra.Command {
	var product, priority, due string
	cmd := &cobra.Command{
		Use:   "create <job-ref>",
		Short: "Start tracking a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"job_ref": args[0], "product_type": product, "priority": priority}
			if due != "" {
				t, err := time.Parse(time.RFC3339, due)
				if err != nil {
					return fmt.Errorf("--due: %w", err)
				}
				body["due_date"] = t
			}
			lc, err := opts.client().Create(cmd.Context(), body)
			if err != nil {
				return err
			}
			return printLifecycle(cmd, opts, lc)
		},
	}
	cmd.Flags().StringVar(&product, "product", "", "Product type")
	cmd.Flags().StringVar(&priority, "priority", "", "LOW, NORMAL, HIGH or URGENT")
	cmd.Flags().StringVar(&due, "due", "", "Due date in RFC3339")
	return cmd
}

func newActionCommand(opts *options, action, short string, withReason bool) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   action + " <job-ref>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lc, err := opts.client().Action(cmd.Context(), args[0], action, reason)
			if err != nil {
				return err
			}
			return printLifecycle(cmd, opts, lc)
		},
	}
	if withReason {
		cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the job history")
	}
	return cmd
}

func newResumeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-ref>",
		Short: "Resume a held job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, res)
			}
			if res.Cascaded {
				fmt.Fprintf(cmd.OutOrStdout(), "Department work was already complete; job moved on to %s\n", res.Lifecycle.Status)
			}
			return printLifecycle(cmd, opts, res.Lifecycle)
		},
	}
}
