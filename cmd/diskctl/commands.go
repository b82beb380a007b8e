package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and host status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL)
			info, err := client.systemInfo()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(info)
				return nil
			}
			fmt.Printf("Host Status\n")
			fmt.Printf("===========\n")
			fmt.Printf("Hostname:  %s\n", info.Hostname)
			fmt.Printf("Platform:  %s (kernel %s)\n", info.Platform, info.Kernel)
			fmt.Printf("Uptime:    %s\n", (time.Duration(info.Uptime) * time.Second).String())
			fmt.Printf("CPUs:      %d\n", info.CPUCount)
			fmt.Printf("Memory:    %s / %s\n", formatBytes(info.MemoryUsed), formatBytes(info.MemoryTotal))
			fmt.Printf("Root FS:   %.1f%% used\n", info.RootUsedPct)
			fmt.Printf("Daemon:    v%s\n", info.Version)
			return nil
		},
	}
}

func newDisksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disks",
		Short: "List block devices and their roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL)
			disks, err := client.listDisks()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(disks)
				return nil
			}
			rows := [][]string{}
			for _, d := range disks {
				mp := "-"
				if d.Mountpoint != nil {
					mp = *d.Mountpoint
				}
				rows = append(rows, []string{
					d.Path, formatBytes(d.SizeBytes), d.Tran, orDash(d.Model),
					orDash(d.FSType), mp, d.Role,
				})
			}
			printTable([]string{"PATH", "SIZE", "BUS", "MODEL", "FS", "MOUNT", "ROLE"}, rows)
			return nil
		},
	}
}

func newRaidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "raid",
		Short: "List active md arrays",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL)
			arrays, err := client.listArrays()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(arrays)
				return nil
			}
			rows := [][]string{}
			for _, a := range arrays {
				rows = append(rows, []string{a.Path, a.Level, a.State, strings.Join(a.Members, ",")})
			}
			printTable([]string{"ARRAY", "LEVEL", "STATE", "MEMBERS"}, rows)
			return nil
		},
	}
}

func newBcacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bcache",
		Short: "List bcache devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL)
			devs, err := client.listBcache()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(devs)
				return nil
			}
			rows := [][]string{}
			for _, d := range devs {
				mp := "-"
				if d.Mountpoint != nil {
					mp = *d.Mountpoint
				}
				rows = append(rows, []string{d.Path, formatBytes(d.SizeBytes), orDash(d.FSType), mp})
			}
			printTable([]string{"DEVICE", "SIZE", "FS", "MOUNT"}, rows)
			return nil
		},
	}
}

func newSmartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smart [device]",
		Short: "SMART health commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL)
			rep, err := client.smart(deviceName(args[0]))
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(rep)
				return nil
			}
			fmt.Printf("SMART report for %s\n", rep.Device)
			fmt.Printf("Verdict: %s\n", strings.ToUpper(rep.Verdict))
			if rep.TempCelsius != nil {
				fmt.Printf("Temperature: %d C\n", *rep.TempCelsius)
			}
			if rep.PowerOnHours != nil {
				fmt.Printf("Power-on hours: %d\n", *rep.PowerOnHours)
			}
			if st := rep.SelfTest; st != nil && st.Running {
				fmt.Printf("Self-test running, %d%% remaining\n", st.RemainingPercent)
			}
			if len(rep.Attributes) > 0 {
				rows := [][]string{}
				for _, a := range rep.Attributes {
					mark := ""
					if a.Failed {
						mark = "FAILING"
					}
					rows = append(rows, []string{fmt.Sprintf("%d", a.ID), a.Name, fmt.Sprintf("%d", a.Raw), mark})
				}
				fmt.Println()
				printTable([]string{"ID", "ATTRIBUTE", "RAW", ""}, rows)
			}
			return nil
		},
	}

	test := &cobra.Command{
		Use:   "test [device]",
		Short: "Start a drive self-test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			long, _ := cmd.Flags().GetBool("long")
			testType := "short"
			if long {
				testType = "long"
			}
			client := newAPIClient(baseURL)
			if err := client.smartTest(deviceName(args[0]), testType); err != nil {
				return err
			}
			fmt.Printf("✓ %s self-test started on %s\n", testType, args[0])
			return nil
		},
	}
	test.Flags().Bool("long", false, "run the extended test")
	cmd.AddCommand(test)
	return cmd
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Draft operation plans",
		Long: `Draft a plan for a storage operation. The daemon validates the
intent against the live inventory and returns the exact commands it
would run plus a confirmation token for destructive plans.`,
	}

	raid := &cobra.Command{
		Use:   "raid [members...]",
		Short: "Plan an md array",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetInt("level")
			name, _ := cmd.Flags().GetString("name")
			return submitPlan(map[string]any{
				"kind": "create-raid",
				"raid": map[string]any{"level": level, "name": name, "members": args},
			})
		},
	}
	raid.Flags().Int("level", 1, "RAID level (0 or 1)")
	raid.Flags().String("name", "md0", "md node name")

	bcache := &cobra.Command{
		Use:   "bcache [backing]",
		Short: "Plan a bcache device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caching, _ := cmd.Flags().GetString("cache")
			return submitPlan(map[string]any{
				"kind":   "create-bcache",
				"bcache": map[string]any{"backing": args[0], "caching": caching},
			})
		},
	}
	bcache.Flags().String("cache", "", "caching device (usually an SSD)")

	wipe := &cobra.Command{
		Use:   "wipe [device]",
		Short: "Plan a signature wipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return submitPlan(map[string]any{
				"kind": "wipe",
				"wipe": map[string]any{"device": args[0], "force": force},
			})
		},
	}
	wipe.Flags().Bool("force", false, "include unmount/array-stop teardown")

	format := &cobra.Command{
		Use:   "format [device]",
		Short: "Plan a filesystem format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _ := cmd.Flags().GetString("fs")
			label, _ := cmd.Flags().GetString("label")
			force, _ := cmd.Flags().GetBool("force")
			return submitPlan(map[string]any{
				"kind": "format",
				"format": map[string]any{
					"device": args[0], "filesystem": fs, "label": label, "force": force,
				},
			})
		},
	}
	format.Flags().String("fs", "ext4", "filesystem (ext4|xfs|btrfs)")
	format.Flags().String("label", "", "filesystem label")
	format.Flags().Bool("force", false, "include unmount/array-stop teardown")

	fstab := &cobra.Command{
		Use:   "fstab [device] [mountpoint]",
		Short: "Plan a persistent mount",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, _ := cmd.Flags().GetString("fs")
			opts, _ := cmd.Flags().GetString("options")
			return submitPlan(map[string]any{
				"kind": "fstab-entry",
				"fstab": map[string]any{
					"device": args[0], "mountpoint": args[1], "filesystem": fs, "options": opts,
				},
			})
		},
	}
	fstab.Flags().String("fs", "ext4", "filesystem type for the entry")
	fstab.Flags().String("options", "defaults", "mount options")

	cmd.AddCommand(raid, bcache, wipe, format, fstab)
	return cmd
}

func submitPlan(intent map[string]any) error {
	client := newAPIClient(baseURL)
	resp, err := client.createPlan(intent)
	if err != nil {
		return err
	}
	if outputJSON {
		printJSON(resp)
		return nil
	}
	p := resp.Plan
	fmt.Printf("Plan %s (%s) state: %s\n", p.ID, p.Kind, p.State)
	for _, wmsg := range p.Warnings {
		fmt.Printf("  warning: %s\n", wmsg)
	}
	for i, st := range p.Steps {
		mark := " "
		if st.Destructive {
			mark = "!"
		}
		fmt.Printf("  %d.%s %s: %s %s\n", i+1, mark, st.ID, st.Cmd, strings.Join(st.Args, " "))
	}
	if resp.ConfirmToken != "" {
		fmt.Printf("\nDestructive plan. Apply with:\n")
		fmt.Printf("  diskctl apply %s --token %s\n", p.ID, resp.ConfirmToken)
	} else {
		fmt.Printf("\nApply with:\n  diskctl apply %s\n", p.ID)
	}
	return nil
}

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply [plan-id]",
		Short: "Execute a drafted plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			yes, _ := cmd.Flags().GetBool("yes")
			if token != "" && !yes && !confirmPrompt(args[0]) {
				return fmt.Errorf("aborted")
			}
			client := newAPIClient(baseURL)
			tx, err := client.applyPlan(args[0], token)
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(tx)
				return nil
			}
			fmt.Printf("✓ Transaction %s started\n", tx.ID)
			fmt.Printf("  Follow with: diskctl tx %s --watch\n", tx.ID)
			return nil
		},
	}
	cmd.Flags().String("token", "", "confirmation token from the plan step")
	cmd.Flags().BoolP("yes", "y", false, "skip the interactive confirmation")
	return cmd
}

func newTxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx [id]",
		Short: "Inspect a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")
			client := newAPIClient(baseURL)
			for {
				tx, err := client.getTx(args[0])
				if err != nil {
					return err
				}
				if outputJSON && !watch {
					printJSON(tx)
					return nil
				}
				renderTx(tx)
				if !watch || terminalState(tx.State) {
					return nil
				}
				time.Sleep(time.Second)
				fmt.Println()
			}
		},
	}
	cmd.Flags().Bool("watch", false, "poll until the transaction finishes")

	cancel := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Stop a transaction before its next step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(baseURL)
			if err := client.cancelTx(args[0]); err != nil {
				return err
			}
			fmt.Println("✓ Cancel requested; in-flight step will finish first")
			return nil
		},
	}
	cmd.AddCommand(cancel)
	return cmd
}

func renderTx(tx txInfo) {
	fmt.Printf("Transaction %s (%s): %s\n", tx.ID, tx.Kind, tx.State)
	if tx.Error != "" {
		fmt.Printf("  error: %s\n", tx.Error)
	}
	for i, st := range tx.Steps {
		code := ""
		if st.Code != nil {
			code = fmt.Sprintf(" (exit %d)", *st.Code)
		}
		fmt.Printf("  %d. %-24s %s%s\n", i+1, st.ID, st.Status, code)
		if st.Status == "error" && st.Stderr != "" {
			fmt.Printf("     %s\n", strings.TrimSpace(st.Stderr))
		}
	}
}

func terminalState(s string) bool {
	return s == "completed" || s == "failed" || s == "aborted"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("diskctl %s\n", Version)
		},
	}
}

func confirmPrompt(planID string) bool {
	fmt.Printf("Plan %s is destructive. Type 'yes' to continue: ", planID)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	return strings.TrimSpace(sc.Text()) == "yes"
}

func deviceName(arg string) string {
	return strings.TrimPrefix(arg, "/dev/")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	_ = w.Flush()
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
