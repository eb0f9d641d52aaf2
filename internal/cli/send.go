package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskweave/taskweave/pkg/stream"
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message without streaming",
	Long: `Send a single message and print the fully resolved reply.
Useful in scripts; proposals cannot be approved on this path, so bulk
creation requests will come back as text only.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	if app.projectID == "" {
		return fmt.Errorf("no project selected: pass --project or set project.id in the config")
	}

	client, err := stream.NewClient(stream.Options{
		BaseURL: app.cfg.Server.BaseURL,
		APIKey:  app.cfg.Server.APIKey,
		Timeout: time.Duration(app.cfg.Server.TimeoutSeconds) * time.Second,
		Logger:  app.zerolog(),
	})
	if err != nil {
		return err
	}

	final, err := client.Complete(cmd.Context(), stream.TurnRequest{
		ProjectID: app.projectID,
		Message:   args[0],
	})
	if err != nil {
		return err
	}

	fmt.Println(final.Message)
	for _, call := range final.ToolCalls {
		fmt.Printf("  (used %s)\n", call.ToolName)
	}
	return nil
}
