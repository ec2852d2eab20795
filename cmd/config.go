package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcprouter/mcprouter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage mcprouter configuration",
	Long:  `Commands for generating, validating, and inspecting mcprouter configuration.`,
}

var configGenerateTemplateCmd = &cobra.Command{
	Use:   "generate-template",
	Short: "Generate an mcprouter.yaml template",
	Long: `Writes a commented mcprouter.yaml configuration file with an example
server and the embedding, vector store, search and indexer keys at their
default values.

Example:
  mcprouter config generate-template
  mcprouter config generate-template --output /etc/mcprouter/mcprouter.yaml`,
	RunE: runConfigGenerateTemplate,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the resolved configuration",
	Long: `Resolves configuration from every layered source (inline servers,
a servers file, environment variables, and defaults) and reports any
error, without starting the router.

Example:
  mcprouter config validate
  mcprouter config validate --config /etc/mcprouter/mcprouter.yaml`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as JSON",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGenerateTemplateCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configGenerateTemplateCmd.Flags().StringP("output", "o", "mcprouter.yaml", "output file path")
	configGenerateTemplateCmd.Flags().Bool("stdout", false, "print to stdout instead of writing a file")
}

func runConfigGenerateTemplate(cmd *cobra.Command, args []string) error {
	toStdout, _ := cmd.Flags().GetBool("stdout")
	output, _ := cmd.Flags().GetString("output")

	template := config.GenerateTemplate()

	if toStdout {
		fmt.Print(template)
		return nil
	}

	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("file %s already exists (use --stdout to print instead)", output)
	}

	if err := os.WriteFile(output, []byte(template), 0o644); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Created %s\n", output)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(viper.GetViper())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration is invalid:\n%v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Configuration is valid: %d server(s), embedding model %q, vector store at %q\n",
		len(cfg.Servers), cfg.Embedding.Model, cfg.VectorDB.Path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(viper.GetViper())
	if err != nil {
		return fmt.Errorf("resolve configuration: %w", err)
	}

	redacted := *cfg
	if redacted.Embedding.APIKey != "" {
		redacted.Embedding.APIKey = "***redacted***"
	}
	for i := range redacted.Servers {
		for k := range redacted.Servers[i].Headers {
			redacted.Servers[i].Headers[k] = "***redacted***"
		}
	}

	out, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
