// Command jobsmanctl manages job definitions in the datastore. It never
// talks to the daemon: every mutation leaves a reload marker behind, and a
// running jobsmand picks it up on its next poll.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"jobsman/internal/config"
	"jobsman/internal/job"
	"jobsman/internal/registry"
	"jobsman/internal/storage"
	logx "jobsman/pkg/logx"
)

const defaultBusyTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "jobsmanctl:", err)
		os.Exit(1)
	}
}

func usage() error {
	fmt.Fprintln(os.Stderr, `usage: jobsmanctl [-config path] <command> [flags]

commands:
  add      add or replace a job
  update   change an existing job
  remove   delete a job
  list     print all jobs
  pending  print reload markers not yet applied by the daemon`)
	return errors.New("unknown or missing command")
}

func run(args []string) error {
	global := flag.NewFlagSet("jobsmanctl", flag.ExitOnError)
	cfgPath := global.String("config", "./jobsman.yaml", "path to config file (yaml or json)")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 {
		return usage()
	}

	cfg, err := config.NewManager(*cfgPath).Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", *cfgPath, err)
	}
	st, err := storage.Open(storage.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeoutOrDefault(defaultBusyTimeout),
	}, logx.Nop())
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	reg := registry.New(st, logx.Nop())

	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "add":
		return runAdd(ctx, reg, cmdArgs)
	case "update":
		return runUpdate(ctx, reg, cmdArgs)
	case "remove":
		return runRemove(ctx, reg, cmdArgs)
	case "list":
		return runList(ctx, reg)
	case "pending":
		return runPending(ctx, st)
	default:
		return usage()
	}
}

// jobFlags registers the schedule flags shared by add and update.
func jobFlags(fs *flag.FlagSet, def *job.Definition) {
	fs.StringVar(&def.ID, "id", "", "job identifier (required)")
	fs.StringVar(&def.Command, "command", "", "shell command to run (required for add)")
	fs.StringVar(&def.Second, "second", "", `second field (default "*")`)
	fs.StringVar(&def.Minute, "minute", "", `minute field (default "*")`)
	fs.StringVar(&def.Hour, "hour", "", `hour field (default "*")`)
	fs.StringVar(&def.Day, "day", "", `day-of-month field (default "*")`)
	fs.StringVar(&def.Month, "month", "", `month field (default "*")`)
	fs.StringVar(&def.DayOfWeek, "dow", "", `day-of-week field (default "*")`)
	fs.IntVar(&def.Timeout, "timeout", 0, "execution timeout in seconds (default 60)")
}

func runAdd(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	var def job.Definition
	jobFlags(fs, &def)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := reg.Add(ctx, def); err != nil {
		return err
	}
	fmt.Printf("added %q, reload pending\n", def.ID)
	return nil
}

func runUpdate(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	var in job.Definition
	jobFlags(fs, &in)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if in.ID == "" {
		return errors.New("update: -id is required")
	}

	// Start from the stored definition so unspecified flags keep their
	// current values instead of resetting to defaults.
	def, ok, err := reg.Get(ctx, in.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update: job %q not found", in.ID)
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["command"] {
		def.Command = in.Command
	}
	if set["second"] {
		def.Second = in.Second
	}
	if set["minute"] {
		def.Minute = in.Minute
	}
	if set["hour"] {
		def.Hour = in.Hour
	}
	if set["day"] {
		def.Day = in.Day
	}
	if set["month"] {
		def.Month = in.Month
	}
	if set["dow"] {
		def.DayOfWeek = in.DayOfWeek
	}
	if set["timeout"] {
		def.Timeout = in.Timeout
	}

	if err := reg.Update(ctx, def); err != nil {
		return err
	}
	fmt.Printf("updated %q, reload pending\n", def.ID)
	return nil
}

func runRemove(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	id := fs.String("id", "", "job identifier (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("remove: -id is required")
	}
	if err := reg.Remove(ctx, *id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("remove: job %q not found", *id)
		}
		return err
	}
	fmt.Printf("removed %q, reload pending\n", *id)
	return nil
}

func runList(ctx context.Context, reg *registry.Registry) error {
	defs, err := reg.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCHEDULE\tTIMEOUT\tCOMMAND")
	for _, d := range defs {
		d = d.Normalized()
		fmt.Fprintf(w, "%s\t%s\t%ds\t%s\n", d.ID, d.Spec(), d.Timeout, d.Command)
	}
	return w.Flush()
}

func runPending(ctx context.Context, st storage.Store) error {
	markers, err := st.PendingMarkers(ctx)
	if err != nil {
		return err
	}
	if len(markers) == 0 {
		fmt.Println("no pending reloads")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "MARKER\tINSERTED\tJOBS BEFORE\tJOBS AFTER")
	for _, m := range markers {
		before, _ := job.ParseSnapshot(m.JobsBefore)
		after, _ := job.ParseSnapshot(m.JobsAfter)
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n",
			m.ID, m.InsertTime.Local().Format(time.RFC3339), len(before), len(after))
	}
	return w.Flush()
}
