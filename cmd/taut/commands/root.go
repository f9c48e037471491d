package commands

import (
	"github.com/spf13/cobra"

	"github.com/taut-ln/taut/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

// RootCmd is the root command for taut
var RootCmd = &cobra.Command{
	Use:              "taut",
	Short:            "cooperative channel rebalancing",
	TraverseChildren: true,
}
