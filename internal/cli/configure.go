package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/internal/config"
)

var (
	configureBaseURL   string
	configureAPIKey    string
	configureProject   string
	configureTransport string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Create or update the configuration file",
	Long: `Create or update the taskweave configuration file.
Only flags you pass are changed; everything else keeps its current value.`,
	RunE: runConfigure,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	configureCmd.Flags().StringVar(&configureBaseURL, "base-url", "", "backend base URL")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "backend API key")
	configureCmd.Flags().StringVar(&configureProject, "default-project", "", "default project ID")
	configureCmd.Flags().StringVar(&configureTransport, "transport", "", "stream transport (sse, websocket)")
	configureCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if configureBaseURL != "" {
		cfg.Server.BaseURL = configureBaseURL
	}
	if configureAPIKey != "" {
		cfg.Server.APIKey = configureAPIKey
	}
	if configureProject != "" {
		cfg.Project.ID = configureProject
	}
	if configureTransport != "" {
		cfg.Server.Transport = configureTransport
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("Configuration saved to %s\n", loader.GetConfigPath())
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println(cfg.String())
	return nil
}
