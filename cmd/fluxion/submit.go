package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cuemby/fluxion/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var submitCmd = &cobra.Command{
	Use:   "submit <blueprint-file> <dockerinfo-file>",
	Short: "Submit a blueprint and dockerinfo mapping to a running fluxion API",
	Long: `submit reads a blueprint and its dockerinfo endpoint mapping from
disk (YAML or JSON, detected by extension) and POSTs them to a fluxion
submission API's /workflows endpoint, printing the resulting workflow id.`,
	Args: cobra.ExactArgs(2),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().String("api", envOrDefault("FLUXION_API", "http://localhost:8080"), "Submission API base URL")
	submitCmd.Flags().Bool("watch", false, "Poll GET /workflows/{id} until the workflow reaches a terminal state")
	submitCmd.Flags().Duration("watch-interval", 2*time.Second, "Polling interval when --watch is set")
}

type submitRequestBody struct {
	Blueprint  *types.Blueprint  `json:"blueprint"`
	DockerInfo *types.DockerInfo `json:"dockerinfo"`
}

type submitResponseBody struct {
	WorkflowID string               `json:"workflow_id"`
	Status     types.WorkflowStatus `json:"status"`
}

type observeResponseBody struct {
	WorkflowID string               `json:"workflow_id"`
	Status     types.WorkflowStatus `json:"status"`
	Error      *types.ErrorInfo     `json:"error,omitempty"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	blueprintPath, dockerInfoPath := args[0], args[1]
	apiBase, _ := cmd.Flags().GetString("api")
	watch, _ := cmd.Flags().GetBool("watch")
	watchInterval, _ := cmd.Flags().GetDuration("watch-interval")

	var bp types.Blueprint
	if err := decodeFile(blueprintPath, &bp); err != nil {
		return fmt.Errorf("read blueprint: %w", err)
	}
	var info types.DockerInfo
	if err := decodeFile(dockerInfoPath, &info); err != nil {
		return fmt.Errorf("read dockerinfo: %w", err)
	}

	body, err := json.Marshal(submitRequestBody{Blueprint: &bp, DockerInfo: &info})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := http.Post(apiBase+"/workflows", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post /workflows: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("submission rejected (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var submitted submitResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("workflow submitted: %s (status=%s)\n", submitted.WorkflowID, submitted.Status)

	if !watch {
		return nil
	}
	return watchWorkflow(apiBase, submitted.WorkflowID, watchInterval)
}

func watchWorkflow(apiBase, workflowID string, interval time.Duration) error {
	for {
		resp, err := http.Get(apiBase + "/workflows/" + workflowID)
		if err != nil {
			return fmt.Errorf("poll workflow: %w", err)
		}
		var observed observeResponseBody
		err = json.NewDecoder(resp.Body).Decode(&observed)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode workflow status: %w", err)
		}

		switch observed.Status {
		case types.WorkflowComplete:
			fmt.Println("workflow complete")
			return nil
		case types.WorkflowFailed:
			msg := "workflow failed"
			if observed.Error != nil {
				msg += ": " + observed.Error.Message
			}
			return fmt.Errorf("%s", msg)
		case types.WorkflowCancelled:
			return fmt.Errorf("workflow cancelled")
		}

		fmt.Printf("status=%s, polling again in %s\n", observed.Status, interval)
		time.Sleep(interval)
	}
}

func decodeFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") {
		return json.Unmarshal(data, out)
	}
	return yaml.Unmarshal(data, out)
}
