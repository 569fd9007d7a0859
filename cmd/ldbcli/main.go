// Command ldbcli opens a page file and dumps or scans an index, the
// successor to the teacher's cmd/xrain dump tool rewired against the
// DB/tree/Cursor API in place of Tx/SimpleBucket.
package main

import (
	"fmt"
	"os"

	"github.com/nikandfor/tlog"
	"github.com/spf13/cobra"

	"go.sigil.dev/ldb"
)

func main() {
	root := &cobra.Command{
		Use:   "ldbcli",
		Short: "inspect an ldb page file",
	}

	var file string
	var verbosity string
	root.PersistentFlags().StringVarP(&file, "file", "f", "", "page file path")
	root.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "", "tlog verbosity topics")

	root.AddCommand(statsCmd(&file, &verbosity))
	root.AddCommand(dumpCmd(&file, &verbosity))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openReadOnly(file, verbosity string) (*ldb.DB, error) {
	tlog.SetVerbosity(verbosity)
	store, err := ldb.OpenFilePageStore(file, 4096, true)
	if err != nil {
		return nil, err
	}
	return ldb.Open(store)
}

func statsCmd(file, verbosity *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print the default index's id",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openReadOnly(*file, *verbosity)
			if err != nil {
				return err
			}
			defer db.Close()

			t, err := db.OpenTree("default")
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %d\n", "indexId", t.IndexID())
			return nil
		},
	}
}

func dumpCmd(file, verbosity *string) *cobra.Command {
	var index string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "dump an index's keys/values in ascending order",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openReadOnly(*file, *verbosity)
			if err != nil {
				return err
			}
			defer db.Close()

			t, err := db.OpenTree(index)
			if err != nil {
				return err
			}

			c := t.NewCursor()
			defer c.Close()

			for ok, err := c.First(); ; ok, err = c.Next() {
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				fmt.Printf("%q -> %q\n", c.Key(), c.Value())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&index, "index", "default", "index name")
	return cmd
}
