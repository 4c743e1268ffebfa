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

var transferAddr string

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Inspect in-flight transfers on a running broker",
}

var transferListCmd = &cobra.Command{
	Use:   "list",
	Short: "List in-flight transfers",
	RunE:  runTransferList,
}

func init() {
	transferCmd.PersistentFlags().StringVar(&transferAddr, "addr", "http://localhost:8443", "broker admin address")
	transferCmd.AddCommand(transferListCmd)
}

type transferSummary struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Direction string `json:"direction"`
	Status    string `json:"status"`
	FileSize  int64  `json:"file_size"`
}

type transferTable []transferSummary

func (t transferTable) Headers() []string {
	return []string{"ID", "SESSION", "FILENAME", "DIRECTION", "STATUS", "SIZE"}
}

func (t transferTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, tr := range t {
		rows = append(rows, []string{tr.ID, tr.SessionID, tr.Filename, tr.Direction, tr.Status, strconv.FormatInt(tr.FileSize, 10)})
	}
	return rows
}

func runTransferList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(transferAddr + "/admin/transfers")
	if err != nil {
		return fmt.Errorf("reach broker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broker returned status %s", strconv.Itoa(resp.StatusCode))
	}

	var transfers transferTable
	if err := json.NewDecoder(resp.Body).Decode(&transfers); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	output.Print(os.Stdout, transfers)
	return nil
}
