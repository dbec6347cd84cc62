package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aditiharini/drone-mesh/querying"
	trace "github.com/aditiharini/drone-mesh/traces"
)

var (
	logFile     string
	storeFile   string
	runID       string
	queriesFile string
	outDir      string
	printTables bool
)

var rootCmd = &cobra.Command{
	Use:   "process-logs",
	Short: "Run queries over the packet events of a simulation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		records, err := loadRecords()
		if err != nil {
			return err
		}
		queries, err := loadQueries()
		if err != nil {
			return err
		}
		return process(records, queries, outDir, printTables, cmd.OutOrStdout())
	},
	SilenceUsage: true,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the runs recorded in a trace store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if storeFile == "" {
			return fmt.Errorf("--store is required")
		}
		store, err := trace.OpenStore(storeFile)
		if err != nil {
			return err
		}
		defer store.Close()
		runs, err := store.Runs()
		if err != nil {
			return err
		}
		return listRuns(runs, cmd.OutOrStdout())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeFile, "store", "", "bbolt trace store written by the simulator")
	rootCmd.Flags().StringVarP(&logFile, "log", "l", "", "simulator log, json or logfmt")
	rootCmd.Flags().StringVar(&runID, "run", "", "run to read from the store; defaults to the latest")
	rootCmd.Flags().StringVarP(&queriesFile, "queries", "q", "", "json list of queries; defaults to drop rates and drop reasons")
	rootCmd.Flags().StringVarP(&outDir, "outdir", "o", ".", "directory the query csv files are written to")
	rootCmd.Flags().BoolVar(&printTables, "table", false, "also print each result as a table")
	rootCmd.AddCommand(runsCmd)
}

func main() {
	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.StampMicro})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func loadRecords() ([]trace.Record, error) {
	switch {
	case logFile != "" && storeFile != "":
		return nil, fmt.Errorf("use either --log or --store")
	case logFile != "":
		f, err := os.Open(logFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return trace.ReadLog(f)
	case storeFile != "":
		store, err := trace.OpenStore(storeFile)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		id := runID
		if id == "" {
			if id, err = store.LatestRun(); err != nil {
				return nil, err
			}
		}
		log.WithFields(log.Fields{"event": "reading_run", "run": id}).Info()
		return store.Records(id)
	default:
		return nil, fmt.Errorf("one of --log or --store is required")
	}
}

func loadQueries() ([]querying.Query, error) {
	if queriesFile == "" {
		return []querying.Query{
			querying.DropRateQuery{Output: "drop_rate.csv"},
			querying.DropReasonQuery{Output: "drops.csv"},
		}, nil
	}
	data, err := os.ReadFile(queriesFile)
	if err != nil {
		return nil, err
	}
	return querying.ParseQueries(data)
}

func process(records []trace.Record, queries []querying.Query, outDir string, show bool, out io.Writer) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, q := range queries {
		table, err := q.Execute(records)
		if err != nil {
			return err
		}
		filename := filepath.Join(outDir, q.Outfile())
		if err := table.ToCsv(filename); err != nil {
			return err
		}
		log.WithFields(log.Fields{"event": "query_done", "file": filename, "rows": len(table.Rows)}).Info()
		if show {
			rendered, err := pterm.DefaultTable.WithHasHeader().WithData(table.Data()).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n%s\n", q.Outfile(), rendered)
		}
	}
	return nil
}

func listRuns(runs []trace.RunInfo, out io.Writer) error {
	data := pterm.TableData{{"run", "started", "config", "records"}}
	for _, r := range runs {
		data = append(data, []string{r.ID, r.Started.Format(time.RFC3339), r.Config, strconv.Itoa(r.Records)})
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, rendered)
	return err
}
