package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luma/respwire/protocol"
)

var InspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Decode RESP messages and print them as a tree",
	Long: `Decode RESP messages and print them as a tree

Reads from the file, or from stdin when no file is given. Elements are printed exactly as they
appear on the wire: attributes are shown and error elements are not treated as failures.

Usage
	respwire inspect capture.resp
	printf '*1\r\n$4\r\nPING\r\n' | respwire inspect
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()

		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			in = f
		}

		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}

		out := bufio.NewWriter(cmd.OutOrStdout())
		defer out.Flush()

		return printTree(out, data)
	},
}

// printTree writes every top-level message in data, one node per line.
func printTree(out io.Writer, data []byte) error {
	r := protocol.NewReader(data)

	for messages := 0; r.Remaining() > 0; messages++ {
		if err := printNode(out, &r, 0); err != nil {
			if errors.Is(err, protocol.ErrIncomplete) {
				return fmt.Errorf("message %d is truncated: %w", messages, err)
			}
			return fmt.Errorf("message %d: %w", messages, err)
		}
	}

	return nil
}

func printNode(out io.Writer, r *protocol.Reader, depth int) error {
	if err := r.ReadNextRaw(); err != nil {
		return err
	}

	indent := strings.Repeat("  ", depth)

	switch {
	case r.Prefix() == protocol.PrefixNull:
		fmt.Fprintf(out, "%snull\n", indent)

	case r.IsNull():
		fmt.Fprintf(out, "%s%s null\n", indent, r.Prefix())

	case r.IsAggregate() && r.IsStreaming():
		fmt.Fprintf(out, "%s%s (streaming)\n", indent, r.Prefix())

		for {
			next := *r
			if err := next.ReadNextRaw(); err != nil {
				return err
			}

			if next.Prefix() == protocol.PrefixStreamTerminator {
				*r = next
				fmt.Fprintf(out, "%s%s\n", indent, next.Prefix())
				return nil
			}

			if err := printNode(out, r, depth+1); err != nil {
				return err
			}
		}

	case r.IsAggregate():
		fmt.Fprintf(out, "%s%s (%d)\n", indent, r.Prefix(), r.Len())

		for i := 0; i < r.Len(); i++ {
			if err := printNode(out, r, depth+1); err != nil {
				return err
			}
		}

	case r.IsScalar():
		prefix := r.Prefix()
		if r.IsStreaming() {
			fmt.Fprintf(out, "%s%s (streaming) ", indent, prefix)
		} else {
			fmt.Fprintf(out, "%s%s ", indent, prefix)
		}

		s, err := r.ScalarString()
		if err != nil {
			return err
		}

		fmt.Fprintln(out, strconv.Quote(s))

	default:
		fmt.Fprintf(out, "%s%s\n", indent, r.Prefix())
	}

	return nil
}
