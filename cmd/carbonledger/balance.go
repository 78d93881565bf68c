package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var balanceServer string

var balanceCmd = &cobra.Command{
	Use:   "balance <contract> <holder>",
	Short: "Print a holder's balance from a running server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := fetchBalance(&http.Client{Timeout: 10 * time.Second}, balanceServer, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	balanceCmd.Flags().StringVar(&balanceServer, "server", "http://localhost:8080", "HTTP gateway base URL")
}

// fetchBalance returns "<balance> (as of sequence <n>)".
func fetchBalance(client *http.Client, base, contract, holder string) (string, error) {
	u := strings.TrimRight(base, "/") + "/v1/tokens/" + url.PathEscape(contract) + "/balances/" + url.PathEscape(holder)
	resp, err := client.Get(u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &e) == nil && e.Code != "" {
			return "", fmt.Errorf("%s: %s", e.Code, e.Message)
		}
		return "", fmt.Errorf("server returned %s", resp.Status)
	}

	var bal struct {
		Balance      int64 `json:"balance"`
		AsOfSequence int64 `json:"as_of_sequence"`
	}
	if err := json.Unmarshal(body, &bal); err != nil {
		return "", fmt.Errorf("decode balance: %w", err)
	}
	return fmt.Sprintf("%d (as of sequence %d)", bal.Balance, bal.AsOfSequence), nil
}
