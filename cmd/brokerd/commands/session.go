package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/onlitec/remotebroker/internal/cli/output"
)

var sessionAddr string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect live sessions on a running broker",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	RunE:  runSessionList,
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionAddr, "addr", "http://localhost:8443", "broker admin address")
	sessionCmd.AddCommand(sessionListCmd)
}

type sessionSummary struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id"`
	TechnicianID string `json:"technician_id"`
	State        string `json:"state"`
	CreatedAt    string `json:"created_at"`
}

type sessionTable []sessionSummary

func (t sessionTable) Headers() []string {
	return []string{"ID", "CLIENT", "TECHNICIAN", "STATE", "CREATED"}
}

func (t sessionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		rows = append(rows, []string{s.ID, s.ClientID, s.TechnicianID, s.State, s.CreatedAt})
	}
	return rows
}

func runSessionList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(sessionAddr + "/admin/sessions")
	if err != nil {
		return fmt.Errorf("reach broker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker returned status %s", strconv.Itoa(resp.StatusCode))
	}

	var sessions sessionTable
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	output.Print(os.Stdout, sessions)
	return nil
}
