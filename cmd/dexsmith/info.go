package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dexsmith/internal/dex"
	"dexsmith/internal/dexpack"
)

var infoCmd = &cobra.Command{
	Use:   "info [flags] <input.dxp>",
	Short: "Show container statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  infoExecution,
}

func init() {
	infoCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

type containerInfo struct {
	Classes     int `json:"classes"`
	Methods     int `json:"methods"`
	WithCode    int `json:"methods_with_code"`
	CodeUnits   int `json:"code_units"`
	PoolStrings int `json:"pool_strings"`
	PoolTypes   int `json:"pool_types"`
	PoolProtos  int `json:"pool_protos"`
	PoolFields  int `json:"pool_fields"`
	PoolMethods int `json:"pool_methods"`
}

func infoExecution(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	format = strings.ToLower(format)
	switch format {
	case "pretty", "json":
	default:
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}

	scope, err := dexpack.Load(args[0])
	if err != nil {
		return err
	}

	info := collectContainerInfo(scope)
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "classes:  %d\n", info.Classes)
	fmt.Fprintf(out, "methods:  %d (%d with code, %d code units)\n", info.Methods, info.WithCode, info.CodeUnits)
	fmt.Fprintf(out, "pool:     %d strings, %d types, %d protos, %d fields, %d methods\n",
		info.PoolStrings, info.PoolTypes, info.PoolProtos, info.PoolFields, info.PoolMethods)
	return nil
}

func collectContainerInfo(scope *dex.Scope) containerInfo {
	info := containerInfo{Classes: len(scope.Classes)}
	scope.EachMethod(func(_ *dex.Class, m *dex.Method) {
		info.Methods++
		if m.Code != nil {
			info.WithCode++
			info.CodeUnits += len(m.Code.Units)
		}
	})
	info.PoolStrings, info.PoolTypes, info.PoolProtos, info.PoolFields, info.PoolMethods = scope.Pool.Counts()
	return info
}
