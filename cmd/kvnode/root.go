package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

// wrapWidth is the column at which long flag descriptions wrap.
const wrapWidth = 66

// wrapString wraps text at wrapWidth characters on word boundaries.
func wrapString(text string) string {
	var lines []string
	var line strings.Builder
	width := 0
	for _, word := range strings.Fields(text) {
		if width > 0 && width+1+len(word) > wrapWidth {
			lines = append(lines, line.String())
			line.Reset()
			width = 0
		}
		if width > 0 {
			line.WriteString(" ")
			width++
		}
		line.WriteString(word)
		width += len(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

var rootCmd = &cobra.Command{
	Use:   "kvnode",
	Short: "replicated key-value store node",
	Long: fmt.Sprintf(`kvnode (v%s)

A replicated key-value store with a per-node LSM storage engine and
quorum-replicated HTTP reads and writes across a fixed cluster.`, version),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kvnode version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kvnode v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
