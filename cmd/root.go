package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcprouter",
	Short: "mcprouter - dynamic tool discovery for MCP capability servers",
	Long: `mcprouter sits between an agent host and a fleet of MCP capability
servers. Instead of injecting every server's full tool schema into the
model's context up front, it indexes each server's tools into a local
vector store and exposes exactly two meta-capabilities to the host:

  mcp_search  - find relevant tools by natural-language query
  mcp_call    - invoke a tool once you know its name

Environment Variables:
  MCPROUTER_VECTORDB_PATH   Vector store location
  MCPROUTER_EMBEDDING_*     Embedding provider overrides`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Disable the default cobra completion command to avoid duplicate name conflict.
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is mcprouter.yaml in $HOME or the current directory)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
// Config loading priority: CLI flags > environment variables > config file > defaults.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("mcprouter")
	}

	viper.SetEnvPrefix("MCPROUTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
