package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"orderbridge/internal/breaker"
)

// circuitsCmd talks to a running server; circuit state lives in its process.
func circuitsCmd() *cobra.Command {
	var server, token, reset string
	cmd := &cobra.Command{
		Use:   "circuits",
		Short: "Show (or reset) provider circuit breakers on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}
			base := strings.TrimRight(server, "/")
			if reset != "" {
				var snap breaker.Snapshot
				if err := adminCall(client, http.MethodPost, base+"/v1/admin/circuits/"+reset+"/reset", token, &snap); err != nil {
					return err
				}
				fmt.Printf("%s reset to %s\n", snap.Name, snap.State)
				return nil
			}
			var list struct {
				Circuits []breaker.Snapshot `json:"circuits"`
			}
			if err := adminCall(client, http.MethodGet, base+"/v1/admin/circuits", token, &list); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTATE\tFAILURES\tTOTAL FAILURES\tSINCE")
			for _, s := range list.Circuits {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.Name, s.State, s.ConsecutiveFailures, s.TotalFailures, s.StateChangedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "orderbridge base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("ORDERBRIDGE_AUTH_TOKEN"), "operator bearer token")
	cmd.Flags().StringVar(&reset, "reset", "", "force the named circuit closed")
	return cmd
}

func adminCall(client *http.Client, method, url, token string, out any) error {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var p struct{ Title, Detail string }
		_ = json.NewDecoder(resp.Body).Decode(&p)
		return fmt.Errorf("%s %s: %d %s %s", method, url, resp.StatusCode, p.Title, p.Detail)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
