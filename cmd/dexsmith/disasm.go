package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dexsmith/internal/dex"
	"dexsmith/internal/dexpack"
	"dexsmith/internal/ir"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm [flags] <input.dxp>",
	Short: "Print method listings from a container",
	Args:  cobra.ExactArgs(1),
	RunE:  disasmExecution,
}

func init() {
	disasmCmd.Flags().String("filter", "", "only methods whose class->name contains this substring")
}

func disasmExecution(cmd *cobra.Command, args []string) error {
	if err := applyColorMode(cmd); err != nil {
		return err
	}
	filter, err := cmd.Flags().GetString("filter")
	if err != nil {
		return err
	}

	scope, err := dexpack.Load(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	pool := scope.Pool
	scope.EachMethod(func(c *dex.Class, m *dex.Method) {
		key := pool.Descriptor(c.Type) + "->" + pool.MethodName(m.ID)
		if filter != "" && !strings.Contains(key, filter) {
			return
		}
		fmt.Fprintf(out, "%s:\n", key)
		if m.Code == nil {
			fmt.Fprintln(out, "  (no code)")
			fmt.Fprintln(out)
			return
		}
		body, err := ir.Balloon(m.Code)
		if err != nil {
			fmt.Fprintf(errOut, "  cannot decode: %v\n", err)
			fmt.Fprintln(out)
			return
		}
		fmt.Fprintln(out, body.Format(pool))
	})
	return nil
}
