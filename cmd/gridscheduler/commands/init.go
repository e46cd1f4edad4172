package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/gridstore/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	RunE: func(_ *cobra.Command, _ []string) error {
		path := configFile
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteSample(path, initForce); err != nil {
			return err
		}
		fmt.Println("Wrote sample configuration to", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}
