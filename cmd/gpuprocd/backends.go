package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/ipc"
)

func init() {
	Command.AddCommand(&cobra.Command{
		Use:   "backends",
		Short: "list registered backends and whether they open",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBackends(cmd.OutOrStdout())
		},
	})
	Command.AddCommand(&cobra.Command{
		Use:   "trace FILE",
		Short: "print a recorded script message stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return printTrace(cmd.OutOrStdout(), f)
		},
	})
}

func listBackends(w io.Writer) error {
	for _, name := range backend.Available() {
		be, err := backend.Open(name)
		if err != nil {
			fmt.Fprintf(w, "%-10s unavailable: %v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%-10s %s\n", name, be.Variant())
		be.Close()
	}
	return nil
}

func printTrace(w io.Writer, r io.Reader) error {
	rd := ipc.NewReader(r)
	for n := 0; ; n++ {
		msg, err := rd.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		fmt.Fprintf(w, "%d\t%v\n", n, msg)
	}
}
