package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running botrunner instance's health endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
	cmd.Flags().Uint16("health-port", 8080, "Port the target instance's health endpoint listens on")
	cmd.Flags().String("host", "localhost", "Host the target instance's health endpoint listens on")
	return cmd
}

func runStatus(cmd *cobra.Command) error {
	port, _ := cmd.Flags().GetUint16("health-port")
	host, _ := cmd.Flags().GetString("host")

	url := fmt.Sprintf("http://%s:%d/health", host, port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("unreachable: %v\n", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		fmt.Println("healthy")
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("unhealthy (%s): %s\n", resp.Status, body)
	return fmt.Errorf("botrunner reported unhealthy: %s", resp.Status)
}
