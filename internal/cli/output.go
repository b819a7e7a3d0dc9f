package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

// printResult 按 --json 选择输出格式；人类可读模式按键排序逐行输出
func printResult(cmd *cobra.Command, data map[string]any) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return prettyPrint(out, data)
}

func prettyPrint(out io.Writer, data map[string]any) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := data[k].(type) {
		case string, fmt.Stringer, int, uint8, uint64:
			if _, err := fmt.Fprintf(out, "%s: %v\n", k, v); err != nil {
				return err
			}
		default:
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "%s: %s\n", k, b); err != nil {
				return err
			}
		}
	}
	return nil
}
