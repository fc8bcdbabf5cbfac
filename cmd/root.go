package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "mizan"}

	root.AddCommand(serveCMD(), migrateCMD(), exportCMD())
	_ = root.Execute()
}
